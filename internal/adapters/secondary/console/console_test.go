package console

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fredcamaral/devsync/internal/domain/entities"
)

func TestPrinter(t *testing.T) {
	t.Run("plain output", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewPrinter(&buf, true)

		p.Print(entities.CategoryError, "[devsync] Errors while compiling.")
		p.Print(entities.CategoryWarning, "[devsync] Warnings while compiling.")
		p.Print(entities.CategoryInfo, "[devsync] App updated.")

		assert.Equal(t, "[devsync] Errors while compiling.\n"+
			"[devsync] Warnings while compiling.\n"+
			"[devsync] App updated.\n", buf.String())
	})

	t.Run("colored output", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewPrinter(&buf, false)
		p.colors[entities.CategoryError].EnableColor()

		p.Print(entities.CategoryError, "boom")

		assert.Contains(t, buf.String(), "boom")
		assert.Contains(t, buf.String(), "\x1b[31;1m")
	})

	t.Run("unknown category prints plain", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewPrinter(&buf, false)

		p.Print(entities.Category("other"), "line")
		assert.Equal(t, "line\n", buf.String())
	})
}

func TestHeadlessPage(t *testing.T) {
	t.Run("applies hot updates", func(t *testing.T) {
		p := NewHeadlessPage(false, nil)

		require.NoError(t, p.HotUpdate(context.Background(), "h1"))
		require.NoError(t, p.HotUpdate(context.Background(), "h2"))

		assert.Equal(t, []string{"h1", "h2"}, p.Applied())
		assert.Equal(t, 0, p.Reloads())
	})

	t.Run("rejects hot updates", func(t *testing.T) {
		p := NewHeadlessPage(true, nil)

		err := p.HotUpdate(context.Background(), "h1")
		assert.ErrorIs(t, err, entities.ErrHotUpdateRejected)
		assert.Empty(t, p.Applied())
	})

	t.Run("counts reloads", func(t *testing.T) {
		p := NewHeadlessPage(false, nil)
		p.Reload()
		p.Reload()
		assert.Equal(t, 2, p.Reloads())
	})
}
