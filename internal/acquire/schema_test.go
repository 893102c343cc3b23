package acquire

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datascout-ai/datascout/internal/model"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestSummarizeCSVTypes(t *testing.T) {
	path := writeCSV(t, strings.Join([]string{
		"id,score,active,city",
		"1,9.5,true,Austin",
		"2,8,false,Boston",
		"3,7.25,true,Austin",
	}, "\n"))

	summary, err := summarizeCSV(path)
	require.NoError(t, err)
	require.Len(t, summary.Columns, 4)

	assert.Equal(t, "integer", summary.Columns[0].InferredType)
	// Mixed ints and floats widen to float.
	assert.Equal(t, "float", summary.Columns[1].InferredType)
	assert.Equal(t, "boolean", summary.Columns[2].InferredType)
	assert.Equal(t, "string", summary.Columns[3].InferredType)
	assert.Equal(t, 2, summary.Columns[3].DistinctHint)
	assert.Equal(t, 3, summary.RowCount)
	assert.Len(t, summary.RowSample, 3)
}

func TestSummarizeCSVSkipsRaggedRows(t *testing.T) {
	path := writeCSV(t, strings.Join([]string{
		"a,b",
		"1,2",
		"only-one-field",
		"3,4",
	}, "\n"))

	summary, err := summarizeCSV(path)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.RowCount)
	assert.Equal(t, "integer", summary.Columns[0].InferredType)
}

func TestSummarizeCSVEmptyFile(t *testing.T) {
	path := writeCSV(t, "")

	_, err := summarizeCSV(path)
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestSummarizeCSVHeaderOnly(t *testing.T) {
	path := writeCSV(t, "a,b,c\n")

	summary, err := summarizeCSV(path)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.RowCount)
	for _, c := range summary.Columns {
		assert.Equal(t, "string", c.InferredType, "no observed values defaults to string")
	}
}
