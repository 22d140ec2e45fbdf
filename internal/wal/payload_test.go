package wal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePayloadRoundTrip(t *testing.T) {
	want := CreatePayload{Name: []byte("foo"), IsDir: true, Mode: 0o755, UID: 1, GID: 2, ResultInode: 99}
	got, err := DecodeCreate(EncodeCreate(want))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestUnlinkPayloadRoundTrip(t *testing.T) {
	want := UnlinkPayload{Name: []byte("foo")}
	got, err := DecodeUnlink(EncodeUnlink(want))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRenamePayloadRoundTrip(t *testing.T) {
	want := RenamePayload{SrcName: []byte("a"), DstParentInode: 7, DstName: []byte("b"), NoReplace: true}
	got, err := DecodeRename(EncodeRename(want))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestWritePayloadRoundTrip(t *testing.T) {
	want := WritePayload{Offset: 4096, Data: []byte("hello world")}
	got, err := DecodeWrite(EncodeWrite(want))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSetattrPayloadRoundTrip(t *testing.T) {
	want := SetattrPayload{
		FieldMask: SetattrMode | SetattrSize,
		Mode:      0o600,
		UID:       1,
		GID:       2,
		Size:      1024,
		Atime:     111,
		Mtime:     222,
	}
	got, err := DecodeSetattr(EncodeSetattr(want))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestXattrSetPayloadRoundTrip(t *testing.T) {
	want := XattrSetPayload{Namespace: 1, Key: []byte("user.foo"), Value: []byte("bar"), Flags: 2}
	got, err := DecodeXattrSet(EncodeXattrSet(want))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestXattrSetPayloadEmptyValue(t *testing.T) {
	want := XattrSetPayload{Namespace: 0, Key: []byte("user.empty"), Value: nil, Flags: 0}
	got, err := DecodeXattrSet(EncodeXattrSet(want))
	require.NoError(t, err)
	assert.Equal(t, want.Key, got.Key)
	assert.Empty(t, got.Value)
}

func TestXattrRemovePayloadRoundTrip(t *testing.T) {
	want := XattrRemovePayload{Namespace: 1, Key: []byte("user.foo")}
	got, err := DecodeXattrRemove(EncodeXattrRemove(want))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLinkPayloadRoundTrip(t *testing.T) {
	want := LinkPayload{Name: []byte("hardlink"), TargetInode: 55}
	got, err := DecodeLink(EncodeLink(want))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDecodeTruncatedPayloadsFail(t *testing.T) {
	_, err := DecodeCreate([]byte{0, 0})
	assert.Error(t, err)
	_, err = DecodeWrite([]byte{1, 2, 3})
	assert.Error(t, err)
	_, err = DecodeSetattr([]byte{1, 2, 3})
	assert.Error(t, err)
	_, err = DecodeRename(nil)
	assert.Error(t, err)
	_, err = DecodeXattrSet(nil)
	assert.Error(t, err)
}
