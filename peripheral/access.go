package peripheral

import (
	"github.com/user/bletera/gatt"
	"github.com/user/bletera/logger"
)

// WriteObserver is told about every accepted write. data is a copy.
type WriteObserver func(connHandle uint16, data []byte)

// Handlers serves characteristic accesses. They run on the engine's event
// loop and never block.
type Handlers struct {
	observer WriteObserver
}

// NewHandlers creates the handlers. observer may be nil.
func NewHandlers(observer WriteObserver) *Handlers {
	return &Handlers{observer: observer}
}

// Read answers reads of the read characteristic with DE AD
func (h *Handlers) Read(ctx *gatt.AccessContext) gatt.Status {
	if ctx.Op != gatt.OpRead {
		return gatt.StatusReadNotPermitted
	}
	if ctx.Out == nil {
		return gatt.StatusInsufficientResources
	}

	value := ReadValue()
	if n, err := ctx.Out.Write(value); err != nil || n != len(value) {
		return gatt.StatusInsufficientResources
	}
	logger.Debug("GATT", "read %s by conn %d", ctx.Characteristic, ctx.ConnHandle)
	return gatt.StatusSuccess
}

// Write accepts any payload, including an empty one
func (h *Handlers) Write(ctx *gatt.AccessContext) gatt.Status {
	if ctx.Op != gatt.OpWrite {
		return gatt.StatusWriteNotPermitted
	}

	logger.Info("GATT", "Data from the client: %s", ctx.Data)
	if h.observer != nil {
		data := make([]byte, len(ctx.Data))
		copy(data, ctx.Data)
		h.observer(ctx.ConnHandle, data)
	}
	return gatt.StatusSuccess
}
