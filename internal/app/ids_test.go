package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadIDFile(t *testing.T) {
	content := `# accessions exported from the run selector
SRR1234567
SRR1234568	PRJNA000001	paired

  SRR1234569
# trailing comment
`
	path := filepath.Join(t.TempDir(), "ids.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	ids, err := ReadIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"SRR1234567", "SRR1234568", "SRR1234569"}, ids)
}

func TestReadIDFileMissing(t *testing.T) {
	_, err := ReadIDFile(filepath.Join(t.TempDir(), "absent.txt"))
	assert.Error(t, err)
}

func TestDedupIDs(t *testing.T) {
	assert.Equal(t,
		[]string{"SRR1", "SRR2", "SRR3"},
		DedupIDs([]string{"SRR1", "SRR2", "SRR1", "SRR3", "SRR2"}),
	)
	assert.Empty(t, DedupIDs(nil))
}
