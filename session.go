package modem

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
)

// State is the link state of a modem.
type State int32

const (
	StateOff State = iota
	StateResponsive
	StateFunctionalSimReady
	StateRegistered
	StateReady
	StateAttached
	StateGPRSReady
	StateTCPSession
	StateDetached
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case StateOff:
		return "off"
	case StateResponsive:
		return "responsive"
	case StateFunctionalSimReady:
		return "functionalSimReady"
	case StateRegistered:
		return "registered"
	case StateReady:
		return "ready"
	case StateAttached:
		return "attached"
	case StateGPRSReady:
		return "gprsReady"
	case StateTCPSession:
		return "tcpSession"
	case StateDetached:
		return "detached"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// APN holds the access point credentials given to AT+CSTT.
type APN struct {
	Name     string
	User     string
	Password string
}

// expect runs cmd and turns a mismatch into an error carrying code.
func (m *Modem) expect(ctx context.Context, op string, cmd Command, code ErrorCode) error {
	ok, err := m.SendAndExpect(ctx, cmd)
	if err != nil {
		return err
	}
	if !ok {
		return newError(code, op, fmt.Errorf("%q: no %q in response", cmd.Text, cmd.Expect))
	}
	return nil
}

// Init runs the bring-up checks and then sets the APN.
func (m *Modem) Init(ctx context.Context, apn APN) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	if err := m.status(ctx); err != nil {
		return err
	}
	return m.setAPN(ctx, apn)
}

// Status walks the bring-up sequence: liveness, full functionality, SIM
// readiness and network registration. The state advances with every step
// that succeeds and stays at the last one reached when a step fails.
func (m *Modem) Status(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.status(ctx)
}

func (m *Modem) status(ctx context.Context) error {
	const op = "status"
	t := m.cfg.Timing
	steps := []struct {
		cmd   Command
		code  ErrorCode
		state State
	}{
		{t.Probe.Command("AT", "OK"), CodeUnresponsive, StateResponsive},
		{t.Probe.Command("AT+CFUN?", "+CFUN: 1"), CodeFunc, StateResponsive},
		{t.Probe.Command("AT+CPIN?", "+CPIN: READY"), CodeSIM, StateFunctionalSimReady},
		{t.Register.Command("AT+CREG?", "+CREG: 0,1"), CodeReg, StateRegistered},
	}
	for _, step := range steps {
		if err := m.expect(ctx, op, step.cmd, step.code); err != nil {
			return err
		}
		m.setState(step.state)
	}
	m.setState(StateReady)
	return nil
}

// RSSI returns the received signal strength indicator (0..31).
func (m *Modem) RSSI(ctx context.Context) (int, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.rssi(ctx)
}

func (m *Modem) rssi(ctx context.Context) (int, error) {
	line, ok, err := m.SendAndCapture(ctx, m.cfg.Timing.Query.Command("AT+CSQ", ""))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, newError(CodeUnresponsive, "rssi", nil)
	}
	rssi, _, err := ParseRSSI(line)
	return rssi, err
}

// OperatorName returns the name of the network operator the modem is
// registered with.
func (m *Modem) OperatorName(ctx context.Context) (string, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	line, ok, err := m.SendAndCapture(ctx, m.cfg.Timing.Query.Command("AT+COPS?", ""))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", newError(CodeUnresponsive, "operatorName", nil)
	}
	name, found := ParseQuoted(line)
	if !found {
		return "", newError(CodeOperator, "operatorName", fmt.Errorf("unexpected response %q", line))
	}
	return name, nil
}

// SetAPN issues AT+CSTT once. A modem whose APN is already set refuses the
// command, so [ErrAPN] can be spurious; it is reported all the same.
func (m *Modem) SetAPN(ctx context.Context, apn APN) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.setAPN(ctx, apn)
}

func (m *Modem) setAPN(ctx context.Context, apn APN) error {
	text := fmt.Sprintf("AT+CSTT=%q,%q,%q", apn.Name, apn.User, apn.Password)
	return m.expect(ctx, "setAPN", m.cfg.Timing.APN.Command(text, "OK"), CodeAPN)
}

// Attach attaches the modem to the GPRS service.
func (m *Modem) Attach(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	if err := m.expect(ctx, "attach", m.cfg.Timing.Attach.Command("AT+CGATT=1", "OK"), CodeAttach); err != nil {
		return err
	}
	m.setState(StateAttached)
	return nil
}

// Detach detaches the modem from the GPRS service.
func (m *Modem) Detach(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.detach(ctx)
}

func (m *Modem) detach(ctx context.Context) error {
	if err := m.expect(ctx, "detach", m.cfg.Timing.Attach.Command("AT+CGATT=0", "OK"), CodeAttach); err != nil {
		return err
	}
	m.setState(StateDetached)
	return nil
}

// GPRSConnect brings up the IP stack and returns the address the network
// assigned. The signal quality is read and logged first but does not gate
// the connection. A response that is not an IPv4 address yields [ErrIP];
// no response at all yields [ErrUnresponsive].
func (m *Modem) GPRSConnect(ctx context.Context) (netip.Addr, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	const op = "gprsConnect"
	rssi, err := m.rssi(ctx)
	m.logger.Info(
		"signalQuality",
		slog.Int("rssi", rssi),
		slog.Bool("poor", err != nil || rssi < 5),
		slog.Any("err", err),
		slog.String("errClass", m.classify(err)),
	)

	if err := m.expect(ctx, op, m.cfg.Timing.IPStack.Command("AT+CIICR", "OK"), CodeGPRS); err != nil {
		return netip.Addr{}, err
	}
	line, ok, err := m.SendAndCapture(ctx, m.cfg.Timing.Address.Command("AT+CIFSR", ""))
	if err != nil {
		return netip.Addr{}, err
	}
	if !ok {
		return netip.Addr{}, newError(CodeUnresponsive, op, nil)
	}
	addr, err := ParseIPv4(line)
	if err != nil {
		return netip.Addr{}, err
	}
	m.ip.Store(&addr)
	m.setState(StateGPRSReady)
	return addr, nil
}

// GPRSDisconnect shuts the IP stack down.
func (m *Modem) GPRSDisconnect(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.gprsDisconnect(ctx)
}

func (m *Modem) gprsDisconnect(ctx context.Context) error {
	cmd := m.cfg.Timing.Shutdown.Command("AT+CIPSHUT", "SHUT OK")
	if err := m.expect(ctx, "gprsDisconnect", cmd, CodeUnresponsive); err != nil {
		return err
	}
	m.ip.Store(nil)
	m.setState(StateReady)
	return nil
}

// Powerdown disconnects and detaches, then powers the modem off. Failures
// of the first two steps are logged; the result is that of the power-off
// command alone.
func (m *Modem) Powerdown(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.teardownStep(ctx, "gprsDisconnect", m.gprsDisconnect)
	m.teardownStep(ctx, "detach", m.detach)

	cmd := m.cfg.Timing.Shutdown.Command("AT+CPOWD=1", "NORMAL POWER DOWN")
	if err := m.expect(ctx, "powerdown", cmd, CodeUnresponsive); err != nil {
		return err
	}
	m.setState(StateOff)
	return nil
}

func (m *Modem) teardownStep(ctx context.Context, name string, step func(context.Context) error) {
	err := step(ctx)
	m.logger.Info(
		"teardownStep",
		slog.String("step", name),
		slog.Any("err", err),
		slog.String("errClass", m.classify(err)),
	)
}
