package notes

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestItemStoreCRUD(t *testing.T) {
	store, err := NewItemStore(filepath.Join(t.TempDir(), "items.db"))
	assert.NoError(t, err)
	defer store.Close()

	it, err := store.CreateTask("buy milk", CreateOptions{
		Utterance: "pick up milk on the way home",
		Tags:      []string{"errand"},
	})
	assert.NoError(t, err)
	assert.NotEmpty(t, it.ID)
	assert.Equal(t, "General", it.Drive)

	title := "buy oat milk"
	assert.NoError(t, store.Update(it.ID, ItemPatch{Title: &title}))

	items, err := store.List(false)
	assert.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, "buy oat milk", items[0].Title)
	assert.Equal(t, []string{"errand"}, items[0].Tags)

	assert.NoError(t, store.Recycle(it.ID))
	items, err = store.List(false)
	assert.NoError(t, err)
	assert.Empty(t, items)

	all, err := store.List(true)
	assert.NoError(t, err)
	assert.Len(t, all, 1)
	assert.True(t, all[0].Recycled)
}

func TestItemStoreUpdateMissing(t *testing.T) {
	store, err := NewItemStore(filepath.Join(t.TempDir(), "items.db"))
	assert.NoError(t, err)
	defer store.Close()

	testcases := []struct {
		name string
		fn   func() error
	}{
		{name: "update", fn: func() error {
			title := "x"
			return store.Update("item-missing", ItemPatch{Title: &title})
		}},
		{name: "recycle", fn: func() error {
			return store.Recycle("item-missing")
		}},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.fn())
		})
	}
}

func TestItemStoreActivePointer(t *testing.T) {
	store, err := NewItemStore(filepath.Join(t.TempDir(), "items.db"))
	assert.NoError(t, err)
	defer store.Close()

	active, err := store.GetActive()
	assert.NoError(t, err)
	assert.Empty(t, active)

	it, err := store.CreateTask("task", CreateOptions{})
	assert.NoError(t, err)
	assert.NoError(t, store.SetActive(it.ID))

	active, err = store.GetActive()
	assert.NoError(t, err)
	assert.Equal(t, it.ID, active)

	// Recycling the active item clears the pointer.
	assert.NoError(t, store.Recycle(it.ID))
	active, err = store.GetActive()
	assert.NoError(t, err)
	assert.Empty(t, active)
}

func TestItemStoreArtifacts(t *testing.T) {
	store, err := NewItemStore(filepath.Join(t.TempDir(), "items.db"))
	assert.NoError(t, err)
	defer store.Close()

	it, err := store.CreateTask("sunset", CreateOptions{Tags: []string{"image"}})
	assert.NoError(t, err)
	assert.Equal(t, "Creative", it.Drive)

	assert.NoError(t, store.AttachArtifacts(it.ID, []Artifact{
		{Kind: "image", URL: "https://example.test/a.png"},
		{Kind: "", URL: "   "}, // blank URLs are skipped
	}))

	arts, err := store.ListArtifacts(it.ID)
	assert.NoError(t, err)
	assert.Len(t, arts, 1)
	assert.Equal(t, "https://example.test/a.png", arts[0].URL)
}

func TestItemStoreNotifiesSubscribers(t *testing.T) {
	store, err := NewItemStore(filepath.Join(t.TempDir(), "items.db"))
	assert.NoError(t, err)
	defer store.Close()

	var fired int
	unsub := store.Subscribe(func() { fired++ })
	_, err = store.CreateTask("a", CreateOptions{})
	assert.NoError(t, err)
	assert.Equal(t, 1, fired)

	unsub()
	_, err = store.CreateTask("b", CreateOptions{})
	assert.NoError(t, err)
	assert.Equal(t, 1, fired, "unsubscribed listener must not fire")
}
