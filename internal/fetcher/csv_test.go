package fetcher

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRecord struct {
	ISIN   string `csv:"isin"`
	ExDate string `csv:"ex_date"`
	Amount string `csv:"amount,omitempty"`
}

func TestDecodeCSV(t *testing.T) {
	in := "\ufeffISIN, Ex Date ,Amount,Extra\nSG9999009436,2024-11-15,0.50,x\nSG1S04926220,2024-11-16,,y\n"

	var recs []testRecord
	require.NoError(t, DecodeCSV(strings.NewReader(in), &recs))
	require.Len(t, recs, 2)
	assert.Equal(t, testRecord{ISIN: "SG9999009436", ExDate: "2024-11-15", Amount: "0.50"}, recs[0])
	assert.Empty(t, recs[1].Amount)
}

func TestDecodeCSV_Empty(t *testing.T) {
	var recs []testRecord
	require.NoError(t, DecodeCSV(strings.NewReader(""), &recs))
	assert.Empty(t, recs)

	require.NoError(t, DecodeCSV(strings.NewReader("isin,ex_date\n"), &recs))
	assert.Empty(t, recs)
}

func TestDecodeCSV_Malformed(t *testing.T) {
	var recs []testRecord
	err := DecodeCSV(strings.NewReader("isin,ex_date\nA,2024-01-01,extra\n"), &recs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetcher: decode records")
}

func TestDecodeRows_PadsAndSkipsBlank(t *testing.T) {
	rows := [][]string{
		{"ISIN", "Ex-Date", "Amount"},
		{"SG9999009436", "2024-11-15"},
		{"", " ", ""},
		{"SG1S04926220", "2024-11-16", "0.40", "trailing"},
	}
	var recs []testRecord
	require.NoError(t, DecodeRows(rows, &recs))
	require.Len(t, recs, 2)
	assert.Equal(t, "", recs[0].Amount)
	assert.Equal(t, "0.40", recs[1].Amount)
}

func TestNormalizeHeader(t *testing.T) {
	assert.Equal(t,
		[]string{"ex_date", "stock_code", "payment_date", "isin"},
		NormalizeHeader([]string{"Ex Date", " stock-code ", "PAYMENT_DATE", "\ufeffisin"}),
	)
}
