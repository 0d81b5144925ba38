package mux

import (
	"errors"

	"avaneesh/ts0710-go/pkg/link"
)

var errPeerCloseDown = errors.New("peer closed the multiplexer")

// handleControl processes the control messages carried on DLCI 0
func (m *Mux) handleControl(payload []byte) {
	cmds, err := link.ParseMCC(payload)
	if err != nil {
		m.stats.BadFrame()
		m.log.Warn("%s: malformed control message: %v", m.name, err)
	}
	for _, c := range cmds {
		if c.Command {
			m.onCommand(c)
		} else {
			m.onResponse(c)
		}
	}
}

// respond answers a command, echoing value
func (m *Mux) respond(c link.MCC, value []byte) {
	m.sendMCC(link.MCC{Type: c.Type, Command: false, Value: value})
}

func (m *Mux) onCommand(c link.MCC) {
	m.log.Debug("%s: control command %s", m.name, c.Type)

	switch c.Type {
	case link.CmdTEST:
		m.respond(c, c.Value)

	case link.CmdFCON:
		m.flowOff.Store(false)
		for _, d := range m.dlcis {
			d.transition(StateConnected, StateFlowStopped)
		}
		m.respond(c, nil)
		m.log.Info("%s: peer flow on", m.name)

	case link.CmdFCOFF:
		m.flowOff.Store(true)
		for _, d := range m.dlcis {
			d.transition(StateFlowStopped, StateConnected)
		}
		m.respond(c, nil)
		m.log.Info("%s: peer flow off", m.name)

	case link.CmdMSC:
		m.onModemStatus(c)

	case link.CmdPN:
		m.onParamNegotiation(c)

	case link.CmdPSC, link.CmdRPN, link.CmdRLS, link.CmdSNC:
		m.respond(c, c.Value)

	case link.CmdCLD:
		m.respond(c, nil)
		m.log.Warn("%s: peer requested close down", m.name)
		m.dropDLCI(m.dlcis[0], true)
		m.crash(errPeerCloseDown)

	default:
		m.stats.UnsupportedCommand()
		m.log.Warn("%s: unsupported control command 0x%02X", m.name, c.TypeOctet())
		m.sendMCC(link.MCC{Type: link.CmdNSC, Value: []byte{c.TypeOctet()}})
	}
}

// onModemStatus applies the peer's flow control signal to one DLCI
func (m *Mux) onModemStatus(c link.MCC) {
	p, err := link.DecodeMSC(c.Value)
	if err != nil {
		m.stats.BadFrame()
		m.log.Warn("%s: MSC: %v", m.name, err)
		return
	}
	if int(p.DLCI) >= len(m.dlcis) || !m.dlcis[p.DLCI].State().established() {
		m.sendControl(link.NewFrame(p.DLCI, m.respCR(), link.FrameDM, nil))
		return
	}

	d := m.dlcis[p.DLCI]
	if p.FlowStopped() {
		d.transition(StateFlowStopped, StateConnected)
	} else if d.transition(StateConnected, StateFlowStopped) {
		m.kick()
	}
	m.respond(c, c.Value)
}

// onParamNegotiation answers PN with the smaller of the requested and the
// current frame size
func (m *Mux) onParamNegotiation(c link.MCC) {
	p, err := link.DecodePN(c.Value)
	if err != nil {
		m.stats.BadFrame()
		m.log.Warn("%s: PN: %v", m.name, err)
		return
	}
	if p.DLCI == 0 || int(p.DLCI) >= len(m.dlcis) {
		m.sendControl(link.NewFrame(p.DLCI, m.respCR(), link.FrameDM, nil))
		return
	}

	d := m.dlcis[p.DLCI]
	mtu := d.negotiate(min(int(p.FrameSize), m.cfg.MaxMTU))
	m.log.Debug("%s: DLCI %d: peer asked for %d byte frames, agreed %d", m.name, p.DLCI, p.FrameSize, mtu)

	p.FrameSize = uint16(mtu)
	m.respond(c, p.Encode())
}

func (m *Mux) onResponse(c link.MCC) {
	switch c.Type {
	case link.CmdTEST:
		m.completeSelfTest(c.Value)

	case link.CmdPN:
		p, err := link.DecodePN(c.Value)
		if err != nil || p.DLCI == 0 || int(p.DLCI) >= len(m.dlcis) {
			m.stats.BadFrame()
			return
		}
		d := m.dlcis[p.DLCI]
		mtu := d.negotiate(int(p.FrameSize))
		d.transition(StateConnecting, StateNegotiating)
		m.log.Debug("%s: DLCI %d: frame size %d", m.name, p.DLCI, mtu)

	case link.CmdNSC:
		m.log.Warn("%s: peer does not support control command % X", m.name, c.Value)

	default:
		m.log.Debug("%s: control response %s", m.name, c.Type)
	}
}
