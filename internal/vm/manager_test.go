package vm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesprial/virtweb/internal/hypervisor"
	"github.com/jamesprial/virtweb/internal/hypervisor/hypervisortest"
)

const testDomainXML = `<domain type="kvm">
  <name>scratch</name>
  <memory unit="MiB">512</memory>
  <vcpu>1</vcpu>
  <os><type arch="x86_64">hvm</type></os>
</domain>`

func newTestManager(f *hypervisortest.Fake, policy hypervisor.ItemPolicy) *Manager {
	client := hypervisor.New(hypervisor.Options{
		URI:         "qemu:///system",
		CallTimeout: time.Second,
		Logger:      hclog.NewNullLogger(),
		Dial:        f.Dial,
	})
	return NewManager(client, policy, hclog.NewNullLogger())
}

func threeDomains() *hypervisortest.Fake {
	return hypervisortest.New().
		AddDomain(hypervisortest.Domain{Name: "web", ID: 1, Active: true}).
		AddDomain(hypervisortest.Domain{Name: "db", ID: 2, Active: true}).
		AddDomain(hypervisortest.Domain{Name: "backup"})
}

// ----------------------------------------------------------------------------
// List
// ----------------------------------------------------------------------------

func TestList(t *testing.T) {
	f := threeDomains()
	m := newTestManager(f, "")

	got, err := m.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Summary{
		{ID: 1, Name: "web", Active: true},
		{ID: 2, Name: "db", Active: true},
		{ID: 0, Name: "backup", Active: false},
	}, got)
	assert.Zero(t, f.Open())
}

func TestListEmpty(t *testing.T) {
	m := newTestManager(hypervisortest.New(), "")

	got, err := m.List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestListKeepsAllInactiveDomains(t *testing.T) {
	f := hypervisortest.New()
	names := []string{"a", "b", "c", "d", "e"}
	for _, n := range names {
		f.AddDomain(hypervisortest.Domain{Name: n})
	}
	m := newTestManager(f, "")

	got, err := m.List(context.Background())
	require.NoError(t, err)
	require.Len(t, got, len(names))
	for i, s := range got {
		assert.Equal(t, names[i], s.Name)
		assert.Zero(t, s.ID)
	}
}

func TestListDegrade(t *testing.T) {
	f := hypervisortest.New().
		AddDomain(hypervisortest.Domain{Name: "web", ID: 1, Active: true}).
		AddDomain(hypervisortest.Domain{Name: ""}).
		AddDomain(hypervisortest.Domain{Name: "db", ID: 2, Active: true}).
		Fail("DomainIsActive", "db", errors.New("rpc error"))
	m := newTestManager(f, hypervisor.PolicyDegrade)

	got, err := m.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Summary{
		{ID: 1, Name: "web", Active: true},
		{ID: 0, Name: NoName, Active: false},
		{ID: 2, Name: "db", Active: false},
	}, got)
}

func TestListFail(t *testing.T) {
	f := threeDomains().Fail("DomainIsActive", "db", errors.New("rpc error"))
	m := newTestManager(f, hypervisor.PolicyFail)

	_, err := m.List(context.Background())
	require.Error(t, err)
	assert.Equal(t, hypervisor.KindBackend, hypervisor.KindOf(err))
	assert.Zero(t, f.Open())
}

func TestListEnumerationFailure(t *testing.T) {
	f := threeDomains().Fail("ConnectListAllDomains", "", errors.New("rpc error"))
	m := newTestManager(f, "")

	_, err := m.List(context.Background())
	assert.Equal(t, hypervisor.KindBackend, hypervisor.KindOf(err))
}

func TestListConnectFailure(t *testing.T) {
	f := threeDomains().FailDials(errors.New("connection refused"))
	m := newTestManager(f, "")

	_, err := m.List(context.Background())
	assert.Equal(t, hypervisor.KindConnect, hypervisor.KindOf(err))
}

// ----------------------------------------------------------------------------
// Transitions
// ----------------------------------------------------------------------------

func TestTransitions(t *testing.T) {
	tests := []struct {
		name       string
		run        func(m *Manager, ctx context.Context, vm string) error
		vm         string
		wantActive bool
		wantPaused bool
	}{
		{
			name:       "suspend running",
			run:        (*Manager).Suspend,
			vm:         "web",
			wantActive: true,
			wantPaused: true,
		},
		{
			name:       "start inactive",
			run:        (*Manager).Start,
			vm:         "backup",
			wantActive: true,
		},
		{
			name:       "start running is a no-op",
			run:        (*Manager).Start,
			vm:         "web",
			wantActive: true,
		},
		{
			name:       "resume running is a no-op",
			run:        (*Manager).Resume,
			vm:         "db",
			wantActive: true,
		},
		{
			name: "delete running",
			run: func(m *Manager, ctx context.Context, vm string) error {
				return m.Delete(ctx, vm, false)
			},
			vm: "web",
		},
		{
			name: "delete inactive is a no-op",
			run: func(m *Manager, ctx context.Context, vm string) error {
				return m.Delete(ctx, vm, false)
			},
			vm: "backup",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := threeDomains()
			m := newTestManager(f, "")

			require.NoError(t, tt.run(m, context.Background(), tt.vm))

			d, ok := f.Domain(tt.vm)
			require.True(t, ok)
			assert.Equal(t, tt.wantActive, d.Active)
			assert.Equal(t, tt.wantPaused, d.Paused)
			assert.Zero(t, f.Open())
		})
	}
}

func TestSuspendTwice(t *testing.T) {
	f := threeDomains()
	m := newTestManager(f, "")

	require.NoError(t, m.Suspend(context.Background(), "web"))
	require.NoError(t, m.Suspend(context.Background(), "web"))
}

func TestSuspendInactiveIsNoOp(t *testing.T) {
	f := threeDomains()
	m := newTestManager(f, "")

	require.NoError(t, m.Suspend(context.Background(), "backup"))
	d, _ := f.Domain("backup")
	assert.False(t, d.Active)
}

func TestTransitionUnknownVM(t *testing.T) {
	m := newTestManager(threeDomains(), "")
	ctx := context.Background()

	for name, err := range map[string]error{
		"start":   m.Start(ctx, "ghost"),
		"suspend": m.Suspend(ctx, "ghost"),
		"resume":  m.Resume(ctx, "ghost"),
		"delete":  m.Delete(ctx, "ghost", true),
	} {
		assert.Equal(t, hypervisor.KindLookup, hypervisor.KindOf(err), name)
	}
}

func TestTransitionFailure(t *testing.T) {
	f := threeDomains().Fail("DomainSuspend", "web",
		hypervisortest.LibvirtError(libvirt.ErrInternalError, "qemu monitor hung up"))
	m := newTestManager(f, "")

	err := m.Suspend(context.Background(), "web")
	require.Error(t, err)
	assert.Equal(t, hypervisor.KindTransition, hypervisor.KindOf(err))
	assert.Contains(t, err.Error(), `suspend vm "web"`)
}

func TestTransitionCallsOnlyTarget(t *testing.T) {
	f := threeDomains()
	m := newTestManager(f, "")

	require.NoError(t, m.Resume(context.Background(), "db"))
	assert.Equal(t, []string{"DomainLookupByName:db", "DomainResume:db"}, f.Calls())
}

func TestDeleteUndefine(t *testing.T) {
	f := threeDomains()
	m := newTestManager(f, "")

	require.NoError(t, m.Delete(context.Background(), "web", true))
	_, ok := f.Domain("web")
	assert.False(t, ok)

	got, err := m.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestListLivenessTimeoutNotDegraded(t *testing.T) {
	f := threeDomains().Hang("DomainIsActive")
	client := hypervisor.New(hypervisor.Options{
		CallTimeout: 20 * time.Millisecond,
		Dial:        f.Dial,
	})
	m := NewManager(client, hypervisor.PolicyDegrade, nil)

	_, err := m.List(context.Background())
	require.Error(t, err)
	assert.True(t, hypervisor.IsTimeout(err))
	assert.Equal(t, hypervisor.KindTimeout, hypervisor.KindOf(err))
}

func TestTransitionTimeout(t *testing.T) {
	f := threeDomains().Hang("DomainCreate")
	client := hypervisor.New(hypervisor.Options{
		CallTimeout: 20 * time.Millisecond,
		Dial:        f.Dial,
	})
	m := NewManager(client, "", nil)

	err := m.Start(context.Background(), "backup")
	assert.Equal(t, hypervisor.KindTimeout, hypervisor.KindOf(err))
}

// ----------------------------------------------------------------------------
// Define
// ----------------------------------------------------------------------------

func TestDefine(t *testing.T) {
	f := threeDomains()
	m := newTestManager(f, "")

	sum, err := m.Define(context.Background(), testDomainXML)
	require.NoError(t, err)
	assert.Equal(t, &Summary{ID: 0, Name: "scratch", Active: false}, sum)

	_, ok := f.Domain("scratch")
	assert.True(t, ok)
}

func TestDefineInvalid(t *testing.T) {
	tests := []struct {
		name string
		xml  string
	}{
		{name: "not xml", xml: "definitely not xml"},
		{name: "missing name", xml: `<domain type="kvm"><memory>1024</memory></domain>`},
		{name: "empty", xml: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := threeDomains()
			m := newTestManager(f, "")

			_, err := m.Define(context.Background(), tt.xml)
			assert.Equal(t, hypervisor.KindInvalid, hypervisor.KindOf(err))
			assert.Empty(t, f.Calls())
		})
	}
}

func TestDefineRejected(t *testing.T) {
	f := threeDomains().Fail("DomainDefineXML", "", hypervisortest.LibvirtError(libvirt.ErrInternalError, "unsupported machine type"))
	m := newTestManager(f, "")

	_, err := m.Define(context.Background(), testDomainXML)
	assert.Equal(t, hypervisor.KindTransition, hypervisor.KindOf(err))
}
