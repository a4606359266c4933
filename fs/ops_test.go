package fs

import (
	"testing"

	"github.com/relan/exfat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndLookup(t *testing.T) {
	fsys := newTestFS(t)

	n, err := fsys.Create("hello.txt")
	require.NoError(t, err)
	defer fsys.PutNode(n)
	assert.False(t, n.IsDir())
	assert.EqualValues(t, 0, n.Size)

	found, err := fsys.Lookup("hello.txt")
	require.NoError(t, err)
	defer fsys.PutNode(found)
	assert.Equal(t, n.Meta1Offset, found.Meta1Offset)
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	fsys := newTestFS(t)
	n, err := fsys.Create("dup.txt")
	require.NoError(t, err)
	fsys.PutNode(n)

	_, err = fsys.Create("dup.txt")
	assert.ErrorIs(t, err, exfat.ErrExists)
}

func TestCreateRejectsForbiddenCharacterInName(t *testing.T) {
	fsys := newTestFS(t)
	_, err := fsys.Create("bad*name.txt")
	assert.ErrorIs(t, err, exfat.ErrInvalidName)
}

func TestMkdirThenNestedCreate(t *testing.T) {
	fsys := newTestFS(t)
	require.NoError(t, fsys.Mkdir("sub"))

	n, err := fsys.Create("sub/inner.txt")
	require.NoError(t, err)
	defer fsys.PutNode(n)

	found, err := fsys.Lookup("sub/inner.txt")
	require.NoError(t, err)
	defer fsys.PutNode(found)
	assert.Equal(t, n.Meta1Offset, found.Meta1Offset)
}

func TestLookupDotDotFromSubdirReachesParent(t *testing.T) {
	fsys := newTestFS(t)
	require.NoError(t, fsys.Mkdir("sub"))

	n, err := fsys.Lookup("sub/..")
	require.NoError(t, err)
	defer fsys.PutNode(n)
	assert.Equal(t, fsys.Root(), n)
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	fsys := newTestFS(t)
	n, err := fsys.Create("data.bin")
	require.NoError(t, err)
	defer fsys.PutNode(n)

	payload := make([]byte, 700) // spans two clusters at 512 bytes each
	for i := range payload {
		payload[i] = byte(i)
	}
	written, err := fsys.Write(n, payload, 0)
	require.NoError(t, err)
	assert.Equal(t, len(payload), written)
	assert.EqualValues(t, len(payload), n.Size)
	assert.EqualValues(t, len(payload), n.ValidSize)

	out := make([]byte, len(payload))
	read, err := fsys.Read(n, out, 0)
	require.NoError(t, err)
	assert.Equal(t, len(payload), read)
	assert.Equal(t, payload, out)
}

func TestWriteGapIsZeroFilled(t *testing.T) {
	fsys := newTestFS(t)
	n, err := fsys.Create("sparse.bin")
	require.NoError(t, err)
	defer fsys.PutNode(n)

	_, err = fsys.Write(n, []byte("end"), 600)
	require.NoError(t, err)

	out := make([]byte, 600)
	read, err := fsys.Read(n, out, 0)
	require.NoError(t, err)
	assert.Equal(t, 600, read)
	for _, b := range out {
		assert.Zero(t, b)
	}
}

func TestTruncateShrinkFreesClusters(t *testing.T) {
	fsys := newTestFS(t)
	n, err := fsys.Create("shrink.bin")
	require.NoError(t, err)
	defer fsys.PutNode(n)

	_, err = fsys.Write(n, make([]byte, 1500), 0)
	require.NoError(t, err)
	before := fsys.Stat().FilesFree

	require.NoError(t, fsys.Truncate(n, 10))
	after := fsys.Stat().FilesFree
	assert.Greater(t, after, before)
	assert.EqualValues(t, 10, n.Size)
	assert.EqualValues(t, 10, n.ValidSize)
}

func TestUnlinkRemovesEntryAndReclaimsWhenUnreferenced(t *testing.T) {
	fsys := newTestFS(t)
	n, err := fsys.Create("gone.txt")
	require.NoError(t, err)
	_, err = fsys.Write(n, []byte("hello"), 0)
	require.NoError(t, err)
	fsys.PutNode(n) // drop the pin from Create before unlinking

	require.NoError(t, fsys.Unlink("gone.txt"))

	_, err = fsys.Lookup("gone.txt")
	assert.ErrorIs(t, err, exfat.ErrNotFound)
}

func TestUnlinkRefusesDirectory(t *testing.T) {
	fsys := newTestFS(t)
	require.NoError(t, fsys.Mkdir("adir"))
	err := fsys.Unlink("adir")
	assert.ErrorIs(t, err, exfat.ErrIsADirectory)
}

func TestRmdirRefusesNonEmptyDirectory(t *testing.T) {
	fsys := newTestFS(t)
	require.NoError(t, fsys.Mkdir("parent"))
	n, err := fsys.Create("parent/child.txt")
	require.NoError(t, err)
	fsys.PutNode(n)

	err = fsys.Rmdir("parent")
	assert.ErrorIs(t, err, exfat.ErrNotEmpty)
}

func TestRenameMovesAcrossDirectories(t *testing.T) {
	fsys := newTestFS(t)
	require.NoError(t, fsys.Mkdir("dst"))
	n, err := fsys.Create("src.txt")
	require.NoError(t, err)
	_, err = fsys.Write(n, []byte("payload"), 0)
	require.NoError(t, err)
	fsys.PutNode(n)

	require.NoError(t, fsys.Rename("src.txt", "dst/moved.txt"))

	_, err = fsys.Lookup("src.txt")
	assert.ErrorIs(t, err, exfat.ErrNotFound)

	moved, err := fsys.Lookup("dst/moved.txt")
	require.NoError(t, err)
	defer fsys.PutNode(moved)

	out := make([]byte, 7)
	read, err := fsys.Read(moved, out, 0)
	require.NoError(t, err)
	assert.Equal(t, 7, read)
	assert.Equal(t, "payload", string(out))
}

func TestRenameOverwritesExistingDestination(t *testing.T) {
	fsys := newTestFS(t)
	a, err := fsys.Create("a.txt")
	require.NoError(t, err)
	fsys.PutNode(a)
	b, err := fsys.Create("b.txt")
	require.NoError(t, err)
	fsys.PutNode(b)

	require.NoError(t, fsys.Rename("a.txt", "b.txt"))

	_, err = fsys.Lookup("a.txt")
	assert.ErrorIs(t, err, exfat.ErrNotFound)
	moved, err := fsys.Lookup("b.txt")
	require.NoError(t, err)
	fsys.PutNode(moved)
}
