package network

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const arpTable = `? (192.168.64.1) at 3e:22:fb:b1:aa:64 on bridge100 ifscope permanent [bridge]
? (192.168.64.7) at a:0:27:0:0:1 on bridge100 ifscope [bridge]
? (192.168.64.9) at 1a:0:27:0:0:11 on bridge100 ifscope [bridge]
? (224.0.0.251) at 1:0:5e:0:0:fb on en0 ifscope permanent [ethernet]
`

func TestSimplifyMAC(t *testing.T) {
	tests := map[string]string{
		"0a:00:27:00:00:01": "a:0:27:0:0:1",
		"3E:22:FB:B1:AA:64": "3e:22:fb:b1:aa:64",
		"00:00:00:00:00:00": "0:0:0:0:0:0",
	}
	for in, want := range tests {
		assert.Equal(t, want, SimplifyMAC(in), in)
	}
}

func TestParseARPOutput(t *testing.T) {
	tests := []struct {
		name string
		mac  string
		ip   string
		ok   bool
	}{
		{"full form", "3e:22:fb:b1:aa:64", "192.168.64.1", true},
		{"simplified form", "0a:00:27:00:00:01", "192.168.64.7", true},
		{"uppercase input", "1A:00:27:00:00:11", "192.168.64.9", true},
		{"absent", "0a:00:27:00:00:02", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ip, ok := ParseARPOutput(arpTable, tt.mac)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.ip, ip)
		})
	}
}

func TestARPResolverPolls(t *testing.T) {
	calls := 0
	r := &ARPResolver{
		Interval: time.Millisecond,
		Run: func(context.Context) (string, error) {
			calls++
			switch calls {
			case 1:
				return "", errors.New("arp not ready")
			case 2:
				return "? (10.0.0.1) at 1:2:3:4:5:6 on en0", nil
			default:
				return arpTable, nil
			}
		},
	}
	ip, err := r.Resolve(context.Background(), "0a:00:27:00:00:01")
	require.NoError(t, err)
	assert.Equal(t, "192.168.64.7", ip)
	assert.Equal(t, 3, calls)
}

func TestARPResolverCancel(t *testing.T) {
	r := &ARPResolver{Interval: time.Millisecond, Run: func(context.Context) (string, error) { return "", nil }}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := r.Resolve(ctx, "0a:00:27:00:00:01")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGenerateMAC(t *testing.T) {
	mac, err := GenerateMAC()
	require.NoError(t, err)
	hw, err := net.ParseMAC(mac)
	require.NoError(t, err)
	assert.Equal(t, byte(0x02), hw[0]&0x03, "locally administered unicast")
}
