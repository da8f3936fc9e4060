package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yashrajoria/resibuy-backend/services/notification-service/models"
)

func TestJoin_GroupsFromRoles(t *testing.T) {
	h := New(zap.NewNop())
	c := h.Join("u1", "admin", "unknown", "seller")

	assert.ElementsMatch(t, []string{"u1", models.GroupAllUsers, models.GroupAdmins, models.GroupSellers}, c.Groups())
	assert.Equal(t, 1, h.GroupSize("u1"))
	assert.Equal(t, 1, h.GroupSize(models.GroupAdmins))
	assert.Equal(t, 0, h.GroupSize(models.GroupShippers))
}

func TestDeliver_ReachesEveryMember(t *testing.T) {
	h := New(zap.NewNop())
	a := h.Join("a", "shipper")
	b := h.Join("b", "shipper")
	h.Join("c", "customer")

	n := h.Deliver(models.GroupShippers, models.LiveEvent{Event: models.EventOrderAssigned})
	assert.Equal(t, 2, n)

	assert.Equal(t, models.EventOrderAssigned, (<-a.Events).Event)
	assert.Equal(t, models.EventOrderAssigned, (<-b.Events).Event)
}

func TestDeliver_UserGroupCoversAllConnections(t *testing.T) {
	h := New(zap.NewNop())
	tab1 := h.Join("u1")
	tab2 := h.Join("u1")

	assert.Equal(t, 2, h.Deliver("u1", models.LiveEvent{Event: models.EventOrderCreated}))
	assert.Len(t, tab1.Events, 1)
	assert.Len(t, tab2.Events, 1)
}

func TestDeliver_DropsWhenBufferFull(t *testing.T) {
	h := New(zap.NewNop())
	c := h.Join("slow")

	for i := 0; i < defaultBuffer; i++ {
		require.Equal(t, 1, h.Deliver("slow", models.LiveEvent{Event: "e"}))
	}
	assert.Equal(t, 0, h.Deliver("slow", models.LiveEvent{Event: "overflow"}))
	assert.Len(t, c.Events, defaultBuffer)
}

func TestLeave_RemovesAndClosesChannel(t *testing.T) {
	h := New(zap.NewNop())
	c := h.Join("u1", "admin")
	h.Leave(c)

	assert.Equal(t, 0, h.GroupSize("u1"))
	assert.Equal(t, 0, h.GroupSize(models.GroupAdmins))
	assert.Equal(t, 0, h.Deliver(models.GroupAllUsers, models.LiveEvent{Event: "late"}))

	_, open := <-c.Events
	assert.False(t, open)
}
