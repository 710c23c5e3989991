package fetcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFTPURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    ftpTarget
		wantErr bool
	}{
		{
			name: "anonymous",
			url:  "ftp://ftp.custodian.example.com/drops/ca.xlsx",
			want: ftpTarget{host: "ftp.custodian.example.com:21", path: "/drops/ca.xlsx", user: "anonymous", pass: "anonymous@"},
		},
		{
			name: "credentials and port",
			url:  "ftp://bny:pw@ftp.example.com:2121/out/ca.csv",
			want: ftpTarget{host: "ftp.example.com:2121", path: "/out/ca.csv", user: "bny", pass: "pw"},
		},
		{name: "http scheme rejected", url: "http://example.com/file.csv", wantErr: true},
		{name: "empty path", url: "ftp://ftp.example.com", wantErr: true},
		{name: "root path", url: "ftp://ftp.example.com/", wantErr: true},
		{name: "invalid url", url: "://bad", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFTPURL(tt.url)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewFTPFetcher_Defaults(t *testing.T) {
	f := NewFTPFetcher(FTPOptions{})
	assert.Equal(t, 30*time.Second, f.opts.Timeout)
	assert.Equal(t, 3, f.opts.Retry.MaxAttempts)
}
