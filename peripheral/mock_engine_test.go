package peripheral

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/user/bletera/gatt"
	"github.com/user/bletera/host"
)

// mockEngine records the calls the core makes into a host engine
type mockEngine struct {
	mock.Mock
}

var _ host.Engine = (*mockEngine)(nil)

func (m *mockEngine) SetDeviceName(name string) error {
	return m.Called(name).Error(0)
}

func (m *mockEngine) DeviceName() string {
	return m.Called().String(0)
}

func (m *mockEngine) RegisterAttributeTable(table *gatt.Table) error {
	return m.Called(table).Error(0)
}

func (m *mockEngine) InferAddressType() (host.AddrType, error) {
	args := m.Called()
	return args.Get(0).(host.AddrType), args.Error(1)
}

func (m *mockEngine) SetAdvFields(fields host.AdvFields) error {
	return m.Called(fields).Error(0)
}

func (m *mockEngine) StartAdvertising(addrType host.AddrType, params host.AdvParams) error {
	return m.Called(addrType, params).Error(0)
}

func (m *mockEngine) Run(ctx context.Context, sink host.EventSink) error {
	return m.Called(ctx, sink).Error(0)
}

// newAdvertisingEngine expects any number of advertising starts as BLE-TERA
func newAdvertisingEngine() *mockEngine {
	m := &mockEngine{}
	m.On("DeviceName").Return(DeviceName)
	m.On("InferAddressType").Return(host.AddrTypeRandom, nil)
	m.On("SetAdvFields", mock.Anything).Return(nil)
	m.On("StartAdvertising", mock.Anything, mock.Anything).Return(nil)
	return m
}

func startCalls(m *mockEngine) int {
	n := 0
	for _, c := range m.Calls {
		if c.Method == "StartAdvertising" {
			n++
		}
	}
	return n
}
