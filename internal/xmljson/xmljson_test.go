package xmljson

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ethernetXML = `<interface type='ethernet' name='eth0'>
  <start mode='onboot'/>
  <mac address='52:54:00:aa:bb:cc'/>
  <protocol family='ipv4'>
    <ip address='192.168.1.10' prefix='24'/>
    <route gateway='192.168.1.1'/>
  </protocol>
  <protocol family='ipv6'>
    <dhcp/>
  </protocol>
</interface>`

func TestMarshal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "attributes then children in document order",
			in:   ethernetXML,
			want: `{"interface":{"@type":"ethernet","@name":"eth0",` +
				`"start":{"@mode":"onboot"},` +
				`"mac":{"@address":"52:54:00:aa:bb:cc"},` +
				`"protocol":[` +
				`{"@family":"ipv4","ip":{"@address":"192.168.1.10","@prefix":"24"},"route":{"@gateway":"192.168.1.1"}},` +
				`{"@family":"ipv6","dhcp":null}]}}`,
		},
		{
			name: "leaf becomes trimmed text",
			in:   "<interface><name>\n  lo  \n</name></interface>",
			want: `{"interface":{"name":"lo"}}`,
		},
		{
			name: "empty leaf becomes null",
			in:   "<bridge/>",
			want: `{"bridge":null}`,
		},
		{
			name: "text with attributes goes to #text",
			in:   `<memory unit="KiB">524288</memory>`,
			want: `{"memory":{"@unit":"KiB","#text":"524288"}}`,
		},
		{
			name: "numbers are not coerced",
			in:   `<a><mtu size="1500"/><count>3</count></a>`,
			want: `{"a":{"mtu":{"@size":"1500"},"count":"3"}}`,
		},
		{
			name: "namespaces reduce to local names",
			in:   `<x:iface xmlns:x="urn:x" xmlns="urn:d" x:name="br0"><x:mtu>9000</x:mtu></x:iface>`,
			want: `{"iface":{"@name":"br0","mtu":"9000"}}`,
		},
		{
			name: "comments and declaration ignored",
			in:   `<?xml version="1.0"?><!-- generated --><a><b>1</b><!-- x --></a>`,
			want: `{"a":{"b":"1"}}`,
		},
		{
			name: "repeated leaves collapse into array",
			in:   `<a><b>1</b><c/><b>2</b><b/></a>`,
			want: `{"a":{"b":["1","2",null],"c":null}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Marshal(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestMarshalRejects(t *testing.T) {
	for name, in := range map[string]string{
		"empty":        "",
		"whitespace":   "  \n ",
		"unclosed":     "<a><b></a>",
		"two roots":    "<a/><b/>",
		"stray text":   "hello <a/>",
		"bad entities": "<a>&nope;</a>",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Marshal(in)
			assert.Error(t, err)
		})
	}
}

func TestConvertSingleRootKey(t *testing.T) {
	obj, err := Convert(strings.NewReader(ethernetXML))
	require.NoError(t, err)
	require.Equal(t, 1, obj.Len())
	assert.Equal(t, "interface", obj.Oldest().Key)

	iface, ok := obj.Oldest().Value.(*Object)
	require.True(t, ok)
	var keys []string
	for p := iface.Oldest(); p != nil; p = p.Next() {
		keys = append(keys, p.Key)
	}
	assert.Equal(t, []string{"@type", "@name", "start", "mac", "protocol"}, keys)
}
