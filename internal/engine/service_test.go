package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type loginEvent struct{ user string }

func (loginEvent) EventKind() EventKind { return "login" }

type logoutEvent struct{}

func (logoutEvent) EventKind() EventKind { return "logout" }

type plainService struct {
	BaseService
}

func TestServiceName(t *testing.T) {
	assert.Equal(t, "plainService", serviceName(&plainService{}))
	assert.Equal(t, "Svc", serviceName(&recorder{}))
}

func TestBaseService_DoOnPrefersSpecificHandler(t *testing.T) {
	var b BaseService
	var got []string

	b.OnAny(func(ev Event) { got = append(got, "any:"+string(ev.EventKind())) })
	b.On("login", func(ev Event) { got = append(got, "login:"+ev.(loginEvent).user) })

	assert.True(t, b.DoOn(loginEvent{user: "ada"}))
	assert.True(t, b.DoOn(logoutEvent{}))
	assert.Equal(t, []string{"login:ada", "any:logout"}, got)
}

func TestBaseService_DoOnWithoutHandler(t *testing.T) {
	var b BaseService
	assert.False(t, b.DoOn(logoutEvent{}))

	b.mu.RLock()
	h, cached := b.resolved["logout"]
	b.mu.RUnlock()
	assert.True(t, cached)
	assert.Nil(t, h)
}

func TestBaseService_RegistrationResetsResolution(t *testing.T) {
	var b BaseService
	assert.False(t, b.DoOn(logoutEvent{}))

	called := false
	b.On("logout", func(Event) { called = true })
	assert.True(t, b.DoOn(logoutEvent{}))
	assert.True(t, called)
}

func TestOnEvent_Typed(t *testing.T) {
	var b BaseService
	var user string
	OnEvent(&b, func(ev loginEvent) { user = ev.user })

	require.True(t, b.DoOn(loginEvent{user: "grace"}))
	assert.Equal(t, "grace", user)
	assert.False(t, b.DoOn(logoutEvent{}))
}

func TestBaseService_Defaults(t *testing.T) {
	var b BaseService
	assert.Nil(t, b.Server())
	assert.Equal(t, "", b.Name())
	assert.False(t, b.Enabled())
	assert.NotNil(t, b.Logger())
	assert.NoError(t, b.OnEnable())
	assert.NoError(t, b.OnStart())
	assert.NoError(t, b.OnDisable())
	_, ok := b.handler("Missing")
	assert.False(t, ok)
}
