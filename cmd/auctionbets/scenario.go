package main

// scenario.go — reproduce una secuencia de operaciones escrita en YAML contra
// un ledger en memoria y un reloj manual. Útil para demos y para validar la
// curva y el reparto sin desplegar nada.

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/auctionbets/config"
	"github.com/alejandrodnm/auctionbets/internal/adapters/ledger"
	"github.com/alejandrodnm/auctionbets/internal/adapters/notify"
	"github.com/alejandrodnm/auctionbets/internal/application/engine"
	"github.com/alejandrodnm/auctionbets/internal/domain"
	"github.com/alejandrodnm/auctionbets/internal/ports"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"
)

// Scenario es el archivo YAML completo.
type Scenario struct {
	Name     string            `yaml:"name"`
	Start    time.Time         `yaml:"start"`    // reloj inicial; ahora si está vacío
	Operator string            `yaml:"operator"` // nombre o 0x…
	Custody  string            `yaml:"custody"`
	MinStake string            `yaml:"min_stake"`
	Names    map[string]string `yaml:"names"` // alias → dirección
	Steps    []Step            `yaml:"steps"`
}

// Step es una operación. Solo se leen los campos que aplican a Action.
type Step struct {
	Action    string `yaml:"action"`
	As        string `yaml:"as"` // caller; por defecto el operador
	Account   string `yaml:"account"`
	Subject   string `yaml:"subject"`
	Market    uint64 `yaml:"market"`
	Side      string `yaml:"side"`
	Amount    string `yaml:"amount"`
	MinShares string `yaml:"min_shares"`
	Threshold string `yaml:"threshold"`
	Price     string `yaml:"price"`
	In        string `yaml:"in"` // duración: deadline relativo o avance del reloj
	Expect    string `yaml:"expect_error"`
}

// ScenarioResult resume lo que quedó después de correr todos los pasos.
type ScenarioResult struct {
	Snapshot domain.Snapshot
	Balances map[string]*uint256.Int // por alias
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type scenarioRunner struct {
	names    map[string]common.Address
	operator common.Address
	clock    *manualClock
	ledger   *ledger.Memory
	eng      *engine.Engine
}

// LoadScenario lee y decodifica un archivo de escenario.
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("scenario.Load: read %q: %w", path, err)
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return Scenario{}, fmt.Errorf("scenario.Load: parse YAML: %w", err)
	}
	return sc, nil
}

func runScenarioFile(ctx context.Context, path string, out io.Writer, decimals int32) error {
	sc, err := LoadScenario(path)
	if err != nil {
		return err
	}
	console := notify.NewConsoleWriter(out)
	console.SetDecimals(decimals)

	if sc.Name != "" {
		fmt.Fprintf(out, "=== %s ===\n", sc.Name)
	}
	res, err := RunScenario(ctx, sc, console)
	if err != nil {
		return err
	}

	fmt.Fprintln(out)
	console.PrintMarkets(res.Snapshot.Markets)
	for _, m := range res.Snapshot.Markets {
		var positions []domain.Position
		for _, p := range res.Snapshot.Positions {
			if p.MarketID == m.ID {
				positions = append(positions, p)
			}
		}
		if len(positions) > 0 {
			fmt.Fprintf(out, "\nMarket #%d positions\n", m.ID)
			console.PrintPositions(m, positions)
		}
	}
	console.PrintSummary(res.Snapshot)
	return nil
}

// RunScenario ejecuta los pasos en orden. Un paso con expect_error debe fallar
// con un error que contenga ese texto; cualquier otro error corta la ejecución.
func RunScenario(ctx context.Context, sc Scenario, sinks ...ports.EventSink) (ScenarioResult, error) {
	r, err := newScenarioRunner(sc, sinks)
	if err != nil {
		return ScenarioResult{}, err
	}

	for i, st := range sc.Steps {
		err := r.step(ctx, st)
		switch {
		case st.Expect != "" && err == nil:
			return ScenarioResult{}, fmt.Errorf("step %d (%s): expected error %q, got none", i+1, st.Action, st.Expect)
		case st.Expect != "" && !strings.Contains(err.Error(), st.Expect):
			return ScenarioResult{}, fmt.Errorf("step %d (%s): expected error %q, got: %w", i+1, st.Action, st.Expect, err)
		case st.Expect != "":
			slog.Debug("scenario: expected failure", "step", i+1, "action", st.Action, "err", err)
		case err != nil:
			return ScenarioResult{}, fmt.Errorf("step %d (%s): %w", i+1, st.Action, err)
		}
	}

	snap, err := r.eng.Snapshot(ctx)
	if err != nil {
		return ScenarioResult{}, err
	}
	balances := make(map[string]*uint256.Int, len(r.names))
	for name, addr := range r.names {
		balances[name] = r.ledger.BalanceOf(addr)
	}
	return ScenarioResult{Snapshot: snap, Balances: balances}, nil
}

func newScenarioRunner(sc Scenario, sinks []ports.EventSink) (*scenarioRunner, error) {
	r := &scenarioRunner{names: make(map[string]common.Address, len(sc.Names))}
	for name, hex := range sc.Names {
		if !common.IsHexAddress(hex) {
			return nil, fmt.Errorf("scenario: name %q: invalid address %q", name, hex)
		}
		r.names[name] = common.HexToAddress(hex)
	}

	var err error
	if r.operator, err = r.address(sc.Operator); err != nil {
		return nil, fmt.Errorf("scenario: operator: %w", err)
	}
	custody := common.HexToAddress(config.DefaultCustody)
	if sc.Custody != "" {
		if custody, err = r.address(sc.Custody); err != nil {
			return nil, fmt.Errorf("scenario: custody: %w", err)
		}
	}

	cfg := engine.Config{Operator: r.operator}
	if sc.MinStake != "" {
		v, err := domain.ParseAmount(sc.MinStake)
		if err != nil {
			return nil, fmt.Errorf("scenario: min_stake: %w", err)
		}
		cfg.MinStake = *v
	}

	start := sc.Start
	if start.IsZero() {
		start = time.Now().UTC().Truncate(time.Second)
	}
	r.clock = &manualClock{now: start}
	cfg.Now = r.clock.Now

	r.ledger = ledger.NewMemory(custody)
	r.eng = engine.New(cfg, r.ledger, nil, sinks...)
	return r, nil
}

func (r *scenarioRunner) step(ctx context.Context, st Step) error {
	caller := r.operator
	if st.As != "" {
		var err error
		if caller, err = r.address(st.As); err != nil {
			return err
		}
	}

	switch strings.ToLower(st.Action) {
	case "mint", "fund", "approve":
		account, err := r.address(st.Account)
		if err != nil {
			return err
		}
		amount, err := domain.ParseAmount(st.Amount)
		if err != nil {
			return err
		}
		action := strings.ToLower(st.Action)
		if action == "mint" || action == "fund" {
			if err := r.ledger.Mint(account, amount); err != nil {
				return err
			}
		}
		if action == "approve" || action == "fund" {
			r.ledger.Approve(account, amount)
		}
		return nil

	case "configure":
		subject, err := r.address(st.Subject)
		if err != nil {
			return err
		}
		in, err := time.ParseDuration(st.In)
		if err != nil {
			return fmt.Errorf("in: %w", err)
		}
		_, err = r.eng.ConfigureSubject(ctx, caller, subject, r.clock.Now().Add(in))
		return err

	case "create":
		subject, err := r.address(st.Subject)
		if err != nil {
			return err
		}
		threshold, err := domain.ParseAmount(st.Threshold)
		if err != nil {
			return err
		}
		_, err = r.eng.CreateMarket(ctx, caller, subject, threshold)
		return err

	case "buy":
		side, err := domain.ParseSide(st.Side)
		if err != nil {
			return err
		}
		amount, err := domain.ParseAmount(st.Amount)
		if err != nil {
			return err
		}
		minShares := new(uint256.Int)
		if st.MinShares != "" {
			if minShares, err = domain.ParseAmount(st.MinShares); err != nil {
				return err
			}
		}
		_, err = r.eng.Buy(ctx, caller, st.Market, side, amount, minShares)
		return err

	case "advance":
		d, err := time.ParseDuration(st.In)
		if err != nil {
			return fmt.Errorf("in: %w", err)
		}
		r.clock.Advance(d)
		return nil

	case "price":
		subject, err := r.address(st.Subject)
		if err != nil {
			return err
		}
		price, err := domain.ParseAmount(st.Price)
		if err != nil {
			return err
		}
		_, err = r.eng.SetClearingPrice(ctx, caller, subject, price)
		return err

	case "resolve":
		_, err := r.eng.ResolveOne(ctx, caller, st.Market)
		return err

	case "resolve_subject":
		subject, err := r.address(st.Subject)
		if err != nil {
			return err
		}
		_, err = r.eng.ResolveAllForSubject(ctx, caller, subject)
		return err

	case "claim":
		_, err := r.eng.Claim(ctx, caller, st.Market)
		return err
	}
	return fmt.Errorf("unknown action %q", st.Action)
}

// address acepta un alias declarado en names o una dirección 0x….
func (r *scenarioRunner) address(s string) (common.Address, error) {
	if a, ok := r.names[s]; ok {
		return a, nil
	}
	if common.IsHexAddress(s) {
		return common.HexToAddress(s), nil
	}
	return common.Address{}, fmt.Errorf("unknown account %q", s)
}
