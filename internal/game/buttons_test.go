package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestButtonNamesOrder(t *testing.T) {
	names := ButtonNames()
	assert.Len(t, names, 12)
	assert.Equal(t, "MOVE_LEFT", names[0])
	assert.Equal(t, "ATTACK", names[4])
	assert.Equal(t, "SELECT_NEXT_WEAPON", names[11])
}

func TestButtonManagerPress(t *testing.T) {
	m := NewButtonManager()

	assert.True(t, m.Press("5", 3))
	assert.True(t, m.Press("#", 3))
	assert.False(t, m.Press("A", 3))
	assert.False(t, m.Press("", 3))
}

func TestButtonManagerHoldDecay(t *testing.T) {
	m := NewButtonManager()
	m.Press("2", 3)

	// Счетчик 3: после декремента кнопка нажата еще два кадра
	action := m.Action()
	assert.True(t, action[1])
	action = m.Action()
	assert.True(t, action[1])
	action = m.Action()
	assert.False(t, action[1])
}

func TestButtonManagerRepressRefreshesHold(t *testing.T) {
	m := NewButtonManager()
	m.Press("2", 2)
	m.Action()
	m.Press("2", 2)

	action := m.Action()
	assert.True(t, action[1])
}

func TestButtonManagerActionIsFullVector(t *testing.T) {
	m := NewButtonManager()
	m.Press("1", 2)
	m.Press("0", 2)

	action := m.Action()
	assert.Len(t, action, len(ButtonList))
	assert.True(t, action[0])
	assert.True(t, action[10])
	for i, pressed := range action {
		if i != 0 && i != 10 {
			assert.False(t, pressed, "button %d", i)
		}
	}
}
