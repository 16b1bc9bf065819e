package entities

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileHash_Equal(t *testing.T) {
	a := FileHash{Algorithm: HashAlgorithmSHA256, Digest: []byte{1, 2, 3}}
	b := FileHash{Algorithm: HashAlgorithmSHA256, Digest: []byte{1, 2, 3}}
	c := FileHash{Algorithm: HashAlgorithmXXH64, Digest: []byte{1, 2, 3}}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.Equal(t, "sha256:010203", a.String())
	assert.Equal(t, "", FileHash{}.String())
}

func TestLocalFileRecord_IsOrphan(t *testing.T) {
	assert.True(t, LocalFileRecord{}.IsOrphan(false))
	assert.False(t, LocalFileRecord{}.IsOrphan(true))
	assert.False(t, LocalFileRecord{IsDownloaded: true}.IsOrphan(false))
	assert.False(t, LocalFileRecord{IsFileUploaded: true}.IsOrphan(false))
}

func TestBookDocument_FieldsRoundTrip(t *testing.T) {
	doc := BookDocument{ID: "b1", OwnerID: "u1", Title: "Novel", Path: "novel.epub", Size: 512000}

	fields, err := doc.Fields()
	require.NoError(t, err)
	assert.Equal(t, "Novel", fields["title"])
	assert.Equal(t, float64(512000), fields["size"])

	back, err := BookDocumentFromFields(fields)
	require.NoError(t, err)
	assert.Equal(t, doc.Title, back.Title)
	assert.Equal(t, doc.Size, back.Size)
}
