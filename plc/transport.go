package plc

import (
	"encoding/binary"
	"net"

	"github.com/MIMAOC/packaging-machine-maste-sub000/configs"
	"github.com/goburrow/modbus"
	lock "github.com/viney-shih/go-lock"
)

// Bus is the device surface every controller works against. The production
// implementation is Transport; tests and benchmarks substitute sim.Device.
type Bus interface {
	ReadRegisters(addr uint16, quantity uint16) ([]uint16, error)
	WriteRegister(addr uint16, value uint16) error
	WriteRegisters(addr uint16, values []uint16) error
	ReadCoils(addr uint16, quantity uint16) ([]bool, error)
	WriteCoil(addr uint16, on bool) error
	WriteCoils(addr uint16, values []bool) error
}

// Transport is the single shared Modbus/TCP connection. Every operation runs
// under one latch: callers may assume atomicity per call but never across
// calls. The transport classifies failures and never retries.
type Transport struct {
	latch   lock.Mutex
	address string
	unitID  byte
	handler *modbus.TCPClientHandler
	client  modbus.Client
}

func NewTransport(address string, unitID byte) *Transport {
	if address == "" {
		address = configs.PLCAddress
	}
	if unitID == 0 {
		unitID = configs.PLCUnitID
	}
	return &Transport{
		latch:   lock.NewCASMutex(),
		address: address,
		unitID:  unitID,
	}
}

// probeSet registers tried during connect to verify the device actually
// answers Modbus. Some vendor firmware rejects register 0, so the hopper-1
// target register is tried next.
var probeSet = []uint16{0, paramRegisters[1][ParamTargetWeight]}

// Connect dials the PLC with a plain TCP preflight first, then opens the
// Modbus session and probes a known register.
func (t *Transport) Connect() error {
	t.latch.Lock()
	defer t.latch.Unlock()
	if t.client != nil {
		return nil
	}
	probe, err := net.DialTimeout("tcp", t.address, configs.PreflightTimeout)
	if err != nil {
		return &Error{Kind: ErrTransport, Op: "preflight", Err: err}
	}
	configs.CheckError(probe.Close())

	handler := modbus.NewTCPClientHandler(t.address)
	handler.Timeout = configs.ModbusTimeout
	handler.SlaveId = t.unitID
	if err := handler.Connect(); err != nil {
		return &Error{Kind: ErrTransport, Op: "connect", Err: err}
	}
	client := modbus.NewClient(handler)
	var probeErr error
	for _, addr := range probeSet {
		if _, probeErr = client.ReadHoldingRegisters(addr, 1); probeErr == nil {
			break
		}
	}
	if probeErr != nil {
		configs.CheckError(handler.Close())
		return classify("probe", probeSet[len(probeSet)-1], probeErr)
	}
	t.handler = handler
	t.client = client
	configs.DPrintf("plc connected at %s unit %d", t.address, t.unitID)
	return nil
}

func (t *Transport) Disconnect() error {
	t.latch.Lock()
	defer t.latch.Unlock()
	if t.handler == nil {
		return nil
	}
	err := t.handler.Close()
	t.handler = nil
	t.client = nil
	if err != nil {
		return &Error{Kind: ErrTransport, Op: "disconnect", Err: err}
	}
	return nil
}

func (t *Transport) IsConnected() bool {
	t.latch.Lock()
	defer t.latch.Unlock()
	return t.client != nil
}

func (t *Transport) ReadRegisters(addr uint16, quantity uint16) ([]uint16, error) {
	t.latch.Lock()
	defer t.latch.Unlock()
	if t.client == nil {
		return nil, notConnected("read-registers", addr)
	}
	raw, err := t.client.ReadHoldingRegisters(addr, quantity)
	if err != nil {
		return nil, classify("read-registers", addr, err)
	}
	if len(raw) < int(quantity)*2 {
		return nil, &Error{Kind: ErrProtocol, Op: "read-registers", Addr: addr}
	}
	res := make([]uint16, quantity)
	for i := range res {
		res[i] = binary.BigEndian.Uint16(raw[i*2:])
	}
	return res, nil
}

func (t *Transport) WriteRegister(addr uint16, value uint16) error {
	t.latch.Lock()
	defer t.latch.Unlock()
	if t.client == nil {
		return notConnected("write-register", addr)
	}
	_, err := t.client.WriteSingleRegister(addr, value)
	return classify("write-register", addr, err)
}

func (t *Transport) WriteRegisters(addr uint16, values []uint16) error {
	t.latch.Lock()
	defer t.latch.Unlock()
	if t.client == nil {
		return notConnected("write-registers", addr)
	}
	raw := make([]byte, len(values)*2)
	for i, v := range values {
		binary.BigEndian.PutUint16(raw[i*2:], v)
	}
	_, err := t.client.WriteMultipleRegisters(addr, uint16(len(values)), raw)
	return classify("write-registers", addr, err)
}

func (t *Transport) ReadCoils(addr uint16, quantity uint16) ([]bool, error) {
	t.latch.Lock()
	defer t.latch.Unlock()
	if t.client == nil {
		return nil, notConnected("read-coils", addr)
	}
	raw, err := t.client.ReadCoils(addr, quantity)
	if err != nil {
		return nil, classify("read-coils", addr, err)
	}
	res := make([]bool, quantity)
	for i := range res {
		if i/8 >= len(raw) {
			return nil, &Error{Kind: ErrProtocol, Op: "read-coils", Addr: addr}
		}
		res[i] = raw[i/8]&(1<<(i%8)) != 0
	}
	return res, nil
}

func (t *Transport) WriteCoil(addr uint16, on bool) error {
	t.latch.Lock()
	defer t.latch.Unlock()
	if t.client == nil {
		return notConnected("write-coil", addr)
	}
	value := uint16(0x0000)
	if on {
		value = 0xFF00
	}
	_, err := t.client.WriteSingleCoil(addr, value)
	return classify("write-coil", addr, err)
}

func (t *Transport) WriteCoils(addr uint16, values []bool) error {
	t.latch.Lock()
	defer t.latch.Unlock()
	if t.client == nil {
		return notConnected("write-coils", addr)
	}
	raw := make([]byte, (len(values)+7)/8)
	for i, v := range values {
		if v {
			raw[i/8] |= 1 << (i % 8)
		}
	}
	_, err := t.client.WriteMultipleCoils(addr, uint16(len(values)), raw)
	return classify("write-coils", addr, err)
}

// ReadWeight reads the live weight of one hopper in grams.
func ReadWeight(b Bus, hopper int) (float64, error) {
	regs, err := b.ReadRegisters(WeightRegister(hopper), 1)
	if err != nil {
		return 0, err
	}
	return configs.WeightFromRaw(regs[0]), nil
}

// WriteParam writes a display-unit parameter value to one hopper register.
func WriteParam(b Bus, hopper int, role ParamRole, display float64) error {
	return b.WriteRegister(ParamRegister(hopper, role), configs.ToRaw(display))
}

// ReadParam reads a display-unit parameter value back from the PLC.
func ReadParam(b Bus, hopper int, role ParamRole) (float64, error) {
	regs, err := b.ReadRegisters(ParamRegister(hopper, role), 1)
	if err != nil {
		return 0, err
	}
	return configs.FromRaw(regs[0]), nil
}
