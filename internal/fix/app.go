package fix

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/quickfixgo/quickfix"
	"github.com/quickfixgo/quickfix/store/file"

	"Poly_Maker/internal/logger"
	"Poly_Maker/internal/model"
)

var (
	ErrNotLoggedOn = errors.New("fix: no logged-on session")
	ErrNotStarted  = errors.New("fix: engine not started")
)

// DeltaSink receives canonical book updates decoded from market data messages.
type DeltaSink interface {
	Apply(d model.Delta)
}

type Config struct {
	// SettingsPath points at a quickfix settings file (SocketConnectHost, etc).
	SettingsPath string
	Markets      []string
	// MarketDepth 0 requests the full book.
	MarketDepth int
	APIKey      string
	Secret      string
}

// App implements quickfix.Application. It subscribes market data on logon,
// forwards W/X messages to the sink and routes ExecutionReports to the
// gateway waiting on them.
type App struct {
	cfg  Config
	sink DeltaSink
	log  *slog.Logger

	mu        sync.RWMutex
	session   quickfix.SessionID
	loggedOn  bool
	initiator *quickfix.Initiator

	// injectable for tests
	send func(m quickfix.Messagable, id quickfix.SessionID) error

	gw *Gateway
}

func NewApp(cfg Config, sink DeltaSink) *App {
	a := &App{
		cfg:  cfg,
		sink: sink,
		log:  logger.For("fix"),
		send: quickfix.SendToTarget,
	}
	a.gw = newGateway(a)
	return a
}

// Gateway returns the order side of the session.
func (a *App) Gateway() *Gateway { return a.gw }

func (a *App) sessionID() (quickfix.SessionID, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.session, a.loggedOn
}

func (a *App) OnCreate(id quickfix.SessionID) {
	a.log.Debug("session created", "session", id.String())
}

func (a *App) OnLogon(id quickfix.SessionID) {
	a.mu.Lock()
	a.session = id
	a.loggedOn = true
	a.mu.Unlock()
	a.log.Info("logon", "session", id.String())

	if len(a.cfg.Markets) == 0 {
		return
	}
	if err := a.send(marketDataRequest(a.cfg.Markets, a.cfg.MarketDepth), id); err != nil {
		a.log.Error("market data request failed", "err", err)
		return
	}
	a.log.Info("market data requested", "markets", len(a.cfg.Markets))
}

func (a *App) OnLogout(id quickfix.SessionID) {
	a.mu.Lock()
	a.loggedOn = false
	a.mu.Unlock()
	a.log.Warn("logout", "session", id.String())
	a.gw.failAll(ErrNotLoggedOn)
}

func (a *App) ToApp(msg *quickfix.Message, id quickfix.SessionID) error { return nil }

func (a *App) ToAdmin(msg *quickfix.Message, id quickfix.SessionID) {
	msgType, _ := msg.Header.GetString(tagMsgType)
	if msgType == msgTypeLogon {
		signLogon(msg, a.cfg.APIKey, a.cfg.Secret)
	}
}

func (a *App) FromAdmin(msg *quickfix.Message, id quickfix.SessionID) quickfix.MessageRejectError {
	return nil
}

func (a *App) FromApp(msg *quickfix.Message, id quickfix.SessionID) quickfix.MessageRejectError {
	msgType, _ := msg.Header.GetString(tagMsgType)

	switch msgType {
	case msgTypeSnapshot, msgTypeIncremental:
		deltas, err := decodeMarketData(msg)
		if err != nil {
			a.log.Warn("dropping market data", "msg_type", msgType, "err", err)
			return nil
		}
		for _, d := range deltas {
			a.sink.Apply(d)
		}
	case msgTypeExecReport:
		a.gw.onExecutionReport(msg)
	case msgTypeMassCancel:
		a.gw.onMassCancelReport(msg)
	}
	return nil
}

// Start reads the settings file and starts the initiator.
func (a *App) Start() error {
	absPath, err := filepath.Abs(a.cfg.SettingsPath)
	if err != nil {
		return err
	}
	f, err := os.Open(absPath)
	if err != nil {
		return fmt.Errorf("fix: open settings: %w", err)
	}
	defer f.Close()

	settings, err := quickfix.ParseSettings(f)
	if err != nil {
		return fmt.Errorf("fix: parse settings: %w", err)
	}

	initr, err := quickfix.NewInitiator(a, file.NewStoreFactory(settings), settings, quickfix.NewNullLogFactory())
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.initiator = initr
	a.mu.Unlock()
	return initr.Start()
}

func (a *App) Stop() {
	a.mu.Lock()
	initr := a.initiator
	a.initiator = nil
	a.mu.Unlock()
	if initr != nil {
		initr.Stop()
	}
	a.gw.failAll(ErrNotStarted)
}
