package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/chatmem/internal/storage"
	"github.com/scrypster/chatmem/pkg/types"
)

func TestRegistry_NewGuest(t *testing.T) {
	r := NewRegistry()

	a := r.NewGuest()
	b := r.NewGuest()

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, types.IdentityGuest, a.Kind)
	assert.Equal(t, GuestLabel, a.DisplayLabel)
	assert.True(t, a.IsGuest())

	got, err := r.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, *a, *got)
}

func TestRegistry_GetUnknown(t *testing.T) {
	_, err := NewRegistry().Get("nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRegistry_UpgradeOnce(t *testing.T) {
	r := NewRegistry()
	guest := r.NewGuest()

	up, err := r.Upgrade(guest.ID, "  Ada@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, guest.ID, up.ID, "upgrade keeps the identity key")
	assert.Equal(t, types.IdentityEstablished, up.Kind)
	assert.Equal(t, "Ada@Example.com", up.Email)
	assert.Equal(t, "Ada@Example.com", up.DisplayLabel)
	assert.Equal(t, GravatarURL("ada@example.com"), up.AvatarURL)
	require.NotNil(t, up.EstablishedAt)
	assert.False(t, up.IsGuest())

	_, err = r.Upgrade(guest.ID, "other@example.com")
	assert.ErrorIs(t, err, ErrAlreadyEstablished)

	got, err := r.Get(guest.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada@Example.com", got.Email, "a rejected upgrade must not change the identity")
}

func TestRegistry_UpgradeValidation(t *testing.T) {
	r := NewRegistry()
	guest := r.NewGuest()

	_, err := r.Upgrade(guest.ID, "")
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = r.Upgrade(guest.ID, "not-an-email")
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = r.Upgrade("missing", "a@b.c")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRegistry_RemoveAndList(t *testing.T) {
	r := NewRegistry()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	r.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	a := r.NewGuest()
	b := r.NewGuest()

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, b.ID, list[1].ID)

	r.Remove(a.ID)
	r.Remove(a.ID)
	list = r.List()
	require.Len(t, list, 1)
	assert.Equal(t, b.ID, list[0].ID)
}

func TestRegistry_Restore(t *testing.T) {
	src := NewRegistry()
	g := src.NewGuest()
	_, err := src.Upgrade(g.ID, "ada@example.com")
	require.NoError(t, err)
	src.NewGuest()

	dst := NewRegistry()
	dst.Restore(src.List())

	assert.Equal(t, src.List(), dst.List())
}

func TestGravatarURL(t *testing.T) {
	// md5("myemailaddress@example.com") from the Gravatar documentation.
	assert.Equal(t,
		"https://www.gravatar.com/avatar/0bc83cb571cd1c50ba6f3e8a78ef1346?d=mp&s=200",
		GravatarURL(" MyEmailAddress@example.com "))
}
