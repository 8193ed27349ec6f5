package cell

import (
	"testing"
	"time"

	"github.com/itohio/usbscale/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMockConfig() *config.MockConfig {
	return &config.MockConfig{
		Base:       138300,
		Noise:      10,
		Load:       41408,
		LoadPeriod: time.Second,
		SampleRate: 5 * time.Millisecond,
	}
}

func TestNewMock(t *testing.T) {
	cfg := testMockConfig()
	dev := NewMock(cfg, 1234)
	assert.NotNil(t, dev)
	assert.Equal(t, cfg, dev.cfg)
	assert.Equal(t, 1234, dev.vendorID)
	assert.Equal(t, 0, dev.Opened())
}

func TestNewMock_Defaults(t *testing.T) {
	dev := NewMock(nil, 0)
	assert.NotNil(t, dev.cfg)
	assert.Equal(t, DefaultVendorID, dev.vendorID)
	assert.Equal(t, int64(138300), dev.cfg.Base)
	assert.Equal(t, 12500*time.Microsecond, dev.cfg.SampleRate)
}

func TestMock_ListDevices(t *testing.T) {
	dev := NewMock(testMockConfig(), DefaultVendorID)
	devices, err := dev.ListDevices()
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.NotEqual(t, DefaultVendorID, devices[0].VendorID)
	assert.Equal(t, DefaultVendorID, devices[1].VendorID)
}

func TestMock_DetachAttach(t *testing.T) {
	dev := NewMock(testMockConfig(), DefaultVendorID)

	dev.Detach()
	devices, err := dev.ListDevices()
	require.NoError(t, err)
	assert.Len(t, devices, 1)
	_, err = dev.Open(Handle{Name: "mock-loadcell"}, DefaultLineConfig)
	assert.ErrorIs(t, err, ErrDetached)

	dev.Attach()
	devices, err = dev.ListDevices()
	require.NoError(t, err)
	assert.Len(t, devices, 2)
	port, err := dev.Open(Handle{Name: "mock-loadcell"}, DefaultLineConfig)
	require.NoError(t, err)
	require.NoError(t, port.Close())
}

func TestMock_RequestPermission(t *testing.T) {
	dev := NewMock(testMockConfig(), DefaultVendorID)
	assert.True(t, <-dev.RequestPermission(Handle{Name: "mock-loadcell"}))

	dev.SetDeny(true)
	assert.False(t, <-dev.RequestPermission(Handle{Name: "mock-loadcell"}))
}

func TestMock_RequestPermission_DenyFromConfig(t *testing.T) {
	cfg := testMockConfig()
	cfg.Deny = true
	dev := NewMock(cfg, DefaultVendorID)
	assert.False(t, <-dev.RequestPermission(Handle{Name: "mock-loadcell"}))
}

func TestMock_Open(t *testing.T) {
	dev := NewMock(testMockConfig(), DefaultVendorID)

	_, err := dev.Open(Handle{Name: "mock-loadcell"}, LineConfig{BaudRate: 9600, DataBits: 8, StopBits: 1})
	assert.Error(t, err)

	dev.SetBusy(true)
	_, err = dev.Open(Handle{Name: "mock-loadcell"}, DefaultLineConfig)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "busy")

	dev.SetBusy(false)
	port, err := dev.Open(Handle{Name: "mock-loadcell"}, DefaultLineConfig)
	require.NoError(t, err)
	assert.NotNil(t, port)
	assert.Equal(t, 1, dev.Opened())
	assert.NoError(t, port.Close())
	assert.NoError(t, port.Close())
}

func TestMockPort_generateSample(t *testing.T) {
	cfg := testMockConfig()
	cfg.Noise = 0
	port := &MockPort{cfg: cfg}

	tests := []struct {
		name    string
		elapsed time.Duration
		want    int64
	}{
		{"start unloaded", 0, 138300},
		{"first period unloaded", 500 * time.Millisecond, 138300},
		{"second period loaded", 1500 * time.Millisecond, 138300 + 41408},
		{"third period unloaded", 2500 * time.Millisecond, 138300},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, port.generateSample(tt.elapsed))
		})
	}
}

func TestMockPort_generateSample_NoiseBounded(t *testing.T) {
	cfg := testMockConfig()
	cfg.LoadPeriod = 0
	port := &MockPort{cfg: cfg}

	for i := 0; i < 1000; i++ {
		v := port.generateSample(time.Duration(i) * 12500 * time.Microsecond)
		assert.InDelta(t, 138300, v, float64(cfg.Noise))
	}
}

func TestMockPort_generateSample_Clamped(t *testing.T) {
	cfg := &config.MockConfig{Base: 0, Noise: 1000, SampleRate: time.Millisecond}
	port := &MockPort{cfg: cfg}

	for i := 0; i < 100; i++ {
		assert.GreaterOrEqual(t, port.generateSample(time.Duration(i)*time.Millisecond), int64(0))
	}
}

func TestMockPort_nextChunks_Split(t *testing.T) {
	cfg := testMockConfig()
	cfg.Noise = 0
	cfg.LoadPeriod = 0
	cfg.SplitEvery = 2
	port := &MockPort{cfg: cfg, startTime: time.Now()}

	first := port.nextChunks(port.startTime)
	require.Len(t, first, 1)
	assert.Equal(t, "138300\r\n", string(first[0]))

	second := port.nextChunks(port.startTime)
	require.Len(t, second, 2)
	assert.Equal(t, "138", string(second[0]))
	assert.Equal(t, "300\r\n", string(second[1]))

	v, ok := ParseChunk(second[0])
	assert.True(t, ok)
	assert.Equal(t, int64(138), v)
}
