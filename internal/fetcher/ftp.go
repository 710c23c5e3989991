package fetcher

import (
	"context"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/corpaction-cli/internal/resilience"
)

// FTPOptions configures the FTP fetcher.
type FTPOptions struct {
	Timeout time.Duration
	Retry   resilience.RetryConfig
}

// FTPFetcher downloads custodian drops over FTP.
type FTPFetcher struct {
	opts FTPOptions
}

// NewFTPFetcher creates a new FTPFetcher with the given options.
func NewFTPFetcher(opts FTPOptions) *FTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	return &FTPFetcher{opts: opts}
}

type ftpTarget struct {
	host string
	path string
	user string
	pass string
}

// parseFTPURL extracts host (with port), path, and credentials from an FTP
// URL. Credentials default to anonymous.
func parseFTPURL(rawURL string) (ftpTarget, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ftpTarget{}, eris.Wrap(err, "fetcher: parse ftp url")
	}
	if u.Scheme != "ftp" {
		return ftpTarget{}, eris.Errorf("fetcher: expected ftp scheme, got %q", u.Scheme)
	}
	t := ftpTarget{host: u.Host, path: u.Path, user: "anonymous", pass: "anonymous@"}
	if _, _, splitErr := net.SplitHostPort(t.host); splitErr != nil {
		t.host = net.JoinHostPort(t.host, "21")
	}
	if t.path == "" || t.path == "/" {
		return ftpTarget{}, eris.New("fetcher: empty path in ftp url")
	}
	if u.User != nil {
		t.user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			t.pass = p
		}
	}
	return t, nil
}

// ftpConnReader closes the FTP response and the control connection together.
type ftpConnReader struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpConnReader) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpConnReader) Close() error {
	respErr := r.resp.Close()
	quitErr := r.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "fetcher: close ftp response")
	}
	return eris.Wrap(quitErr, "fetcher: quit ftp connection")
}

// Download connects to the FTP server and retrieves the file. Connection and
// login failures that look transient are retried.
func (f *FTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	t, err := parseFTPURL(rawURL)
	if err != nil {
		return nil, err
	}
	retry := f.opts.Retry
	retry.OnRetry = resilience.RetryLogger(t.host, "ftp download")

	return resilience.DoVal(ctx, retry, func(ctx context.Context) (io.ReadCloser, error) {
		zap.L().Debug("fetcher: ftp connecting", zap.String("host", t.host), zap.String("path", t.path))

		conn, err := ftp.Dial(t.host, ftp.DialWithTimeout(f.opts.Timeout), ftp.DialWithContext(ctx))
		if err != nil {
			return nil, eris.Wrap(err, "fetcher: ftp dial")
		}
		if err := conn.Login(t.user, t.pass); err != nil {
			_ = conn.Quit()
			return nil, eris.Wrap(err, "fetcher: ftp login")
		}
		resp, err := conn.Retr(t.path)
		if err != nil {
			_ = conn.Quit()
			return nil, eris.Wrapf(err, "fetcher: ftp retrieve %s", t.path)
		}
		return &ftpConnReader{resp: resp, conn: conn}, nil
	})
}
