package tui

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeftor/vmcap/internal/instance"
)

type fakeSource struct {
	mu     sync.Mutex
	infos  []instance.Info
	err    error
	killed []string
}

func (f *fakeSource) Instances(context.Context) ([]instance.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.infos, f.err
}

func (f *fakeSource) Kill(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, id)
	return nil
}

func newTestModel(src *fakeSource) *WatchModel {
	return NewWatchModel(context.Background(), src, time.Hour)
}

func runeKey(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestSnapshotPopulatesTable(t *testing.T) {
	src := &fakeSource{infos: []instance.Info{
		{ID: "a1", Name: "base", Type: "clone", State: "running", IP: "192.168.64.2"},
		{ID: "b2", Name: "base", Type: "base", State: "ready"},
	}}
	m := newTestModel(src)

	msg := m.refresh()()
	_, cmd := m.Update(msg)
	assert.NotNil(t, cmd)

	assert.Len(t, m.table.Rows(), 2)
	assert.Equal(t, "-", m.table.Rows()[1][4])
	assert.Equal(t, "a1", m.Selected())
	assert.Contains(t, m.View(), "2 instance(s)")
}

func TestSnapshotErrorKeepsPreviousRows(t *testing.T) {
	src := &fakeSource{infos: []instance.Info{{ID: "a1", State: "running"}}}
	m := newTestModel(src)
	m.Update(m.refresh()())

	src.err = errors.New("daemon gone")
	m.Update(m.refresh()())

	assert.Len(t, m.table.Rows(), 1)
	assert.Contains(t, m.View(), "daemon gone")
}

func TestKillSelected(t *testing.T) {
	src := &fakeSource{infos: []instance.Info{{ID: "a1", State: "running"}}}
	m := newTestModel(src)
	m.Update(m.refresh()())

	_, cmd := m.Update(runeKey('x'))
	require.NotNil(t, cmd)
	killed := cmd()
	assert.Equal(t, killedMsg{id: "a1"}, killed)
	assert.Equal(t, []string{"a1"}, src.killed)

	m.Update(killed)
	assert.Contains(t, m.View(), "killed a1")
}

func TestKillWithEmptyTableDoesNothing(t *testing.T) {
	m := newTestModel(&fakeSource{})
	m.Update(m.refresh()())

	_, cmd := m.Update(runeKey('x'))
	assert.Nil(t, cmd)
	assert.Contains(t, m.View(), "No instances")
}

func TestKillAll(t *testing.T) {
	src := &fakeSource{}
	m := newTestModel(src)
	_, cmd := m.Update(runeKey('X'))
	require.NotNil(t, cmd)
	cmd()
	assert.Equal(t, []string{"all"}, src.killed)
}

func TestPauseSkipsRefresh(t *testing.T) {
	src := &fakeSource{}
	m := newTestModel(src)
	m.Update(runeKey('p'))
	assert.True(t, m.paused)

	_, cmd := m.Update(tickMsg{})
	require.NotNil(t, cmd)
	assert.Contains(t, m.View(), "paused")
}

func TestQuit(t *testing.T) {
	m := newTestModel(&fakeSource{})
	_, cmd := m.Update(runeKey('q'))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
	assert.Empty(t, m.View())
}
