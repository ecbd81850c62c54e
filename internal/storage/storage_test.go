package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesprial/virtweb/internal/hypervisor"
	"github.com/jamesprial/virtweb/internal/hypervisor/hypervisortest"
	"github.com/jamesprial/virtweb/internal/tools"
	"github.com/jamesprial/virtweb/internal/tools/toolstest"
)

func newTestManager(f *hypervisortest.Fake, policy hypervisor.ItemPolicy) *Manager {
	client := hypervisor.New(hypervisor.Options{Dial: f.Dial, Logger: hclog.NewNullLogger()})
	return NewManager(client, "", policy, nil)
}

func poolFake() *hypervisortest.Fake {
	return hypervisortest.New().
		AddPool("default",
			hypervisortest.Volume{Name: "web.qcow2", Path: "/var/lib/libvirt/images/web.qcow2", Kind: 0, Capacity: 10 << 30, Allocation: 2 << 30},
			hypervisortest.Volume{Name: "db.raw", Path: "/var/lib/libvirt/images/db.raw", Kind: 0, Capacity: 20 << 30, Allocation: 20 << 30},
		).
		AddPool("empty").
		AddPool("lvm", hypervisortest.Volume{Name: "lv0", Path: "/dev/vg0/lv0", Kind: 1, Capacity: 1 << 30, Allocation: 1 << 30})
}

func TestList(t *testing.T) {
	f := poolFake()
	m := newTestManager(f, "")

	got, err := m.List(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []Volume{
		{Name: "web.qcow2", Path: "/var/lib/libvirt/images/web.qcow2", Kind: 0, CapacityBytes: 10 << 30, AllocationBytes: 2 << 30},
		{Name: "db.raw", Path: "/var/lib/libvirt/images/db.raw", Kind: 0, CapacityBytes: 20 << 30, AllocationBytes: 20 << 30},
	}, got)
	assert.Zero(t, f.Open())
}

func TestListNamedPool(t *testing.T) {
	m := newTestManager(poolFake(), "")

	got, err := m.List(context.Background(), "lvm")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int32(1), got[0].Kind)
	assert.Equal(t, "/dev/vg0/lv0", got[0].Path)
}

func TestListEmptyPool(t *testing.T) {
	m := newTestManager(poolFake(), "")

	got, err := m.List(context.Background(), "empty")
	require.NoError(t, err)
	assert.NotNil(t, got)

	data, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))
}

func TestListUnknownPool(t *testing.T) {
	m := newTestManager(poolFake(), "")

	_, err := m.List(context.Background(), "nope")
	assert.Equal(t, hypervisor.KindLookup, hypervisor.KindOf(err))
}

func TestListVolumeFailure(t *testing.T) {
	tests := []struct {
		name    string
		policy  hypervisor.ItemPolicy
		wantErr bool
	}{
		{name: "fail is the default", policy: "", wantErr: true},
		{name: "explicit fail", policy: hypervisor.PolicyFail, wantErr: true},
		{name: "degrade keeps the volume", policy: hypervisor.PolicyDegrade},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := poolFake().Fail("StorageVolGetInfo", "db.raw", errors.New("rpc error"))
			m := newTestManager(f, tt.policy)

			got, err := m.List(context.Background(), "default")
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, hypervisor.KindBackend, hypervisor.KindOf(err))
				assert.Zero(t, f.Open())
				return
			}
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, Volume{Name: "db.raw"}, got[1])
			assert.Equal(t, "web.qcow2", got[0].Name)
		})
	}
}

func TestListVolumeTimeoutNotDegraded(t *testing.T) {
	f := poolFake().Hang("StorageVolGetInfo")
	client := hypervisor.New(hypervisor.Options{
		CallTimeout: 20 * time.Millisecond,
		Dial:        f.Dial,
	})
	m := NewManager(client, "", hypervisor.PolicyDegrade, nil)

	_, err := m.List(context.Background(), "default")
	require.Error(t, err)
	assert.True(t, hypervisor.IsTimeout(err))
	assert.Eventually(t, func() bool { return f.Open() == 0 }, time.Second, 5*time.Millisecond)
}

func TestVolumeJSONFields(t *testing.T) {
	data, err := json.Marshal(Volume{Name: "a", Path: "/a", Kind: 2, CapacityBytes: 3, AllocationBytes: 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"a","path":"/a","kind":2,"capacity":3,"allocation":1}`, string(data))
}

func TestConfiguredDefaultPool(t *testing.T) {
	f := poolFake()
	client := hypervisor.New(hypervisor.Options{Dial: f.Dial})
	m := NewManager(client, "lvm", "", nil)

	assert.Equal(t, "lvm", m.DefaultPool())
	got, err := m.List(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestVolumeListTool(t *testing.T) {
	regs := StorageTools(newTestManager(poolFake(), ""), tools.Env{})

	res := toolstest.Call(t, regs, "volume_list", map[string]any{"pool": "lvm"})
	require.False(t, res.IsError)
	var got []Volume
	require.NoError(t, json.Unmarshal([]byte(toolstest.Text(t, res)), &got))
	assert.Len(t, got, 1)

	res = toolstest.Call(t, regs, "volume_list", map[string]any{"pool": "nope"})
	assert.True(t, res.IsError)
}
