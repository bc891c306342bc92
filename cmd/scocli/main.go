package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/shopkit/selfscan/internal/cart"
	"github.com/shopkit/selfscan/internal/checkout"
	"github.com/shopkit/selfscan/internal/config"
	"github.com/shopkit/selfscan/internal/events"
	"github.com/shopkit/selfscan/internal/obs"
	"github.com/shopkit/selfscan/internal/pricing"
	"github.com/shopkit/selfscan/internal/resilience"
	"github.com/shopkit/selfscan/internal/retry"
	"github.com/shopkit/selfscan/internal/storage"
	"github.com/shopkit/selfscan/internal/transport"
)

// identity supplies the client id from configuration; customer card and
// app user are not part of the CLI flow.
type identity struct {
	clientID string
}

func (i identity) CustomerCardID() string { return "" }
func (i identity) ClientID() string       { return i.clientID }
func (i identity) AppUserID() string      { return "" }

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()
	obs.MustRegisterDomainMetrics("selfscan", nil)
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, logger)
	}

	dispatcher := events.NewDispatcher(logger)

	breaker := resilience.NewBreaker(5, 0.5, 30*time.Second).WithLogger(logger)

	api := &transport.Client{
		BaseURL:  cfg.Endpoint,
		Project:  cfg.Project,
		ClientID: cfg.ClientID,
		HTTP: resilience.HTTPClient{
			Client:      &http.Client{Timeout: cfg.HTTPTimeout},
			Breaker:     breaker,
			BaseBackoff: 200 * time.Millisecond,
			MaxAttempts: 3,
			Jitter:      0.2,
			Timeout:     cfg.HTTPTimeout,
		},
		Logger: logger,
	}

	cartStore := storage.NewCartStore(cfg.DataDir, cfg.AppEnv, cfg.Shop, cfg.SaveDebounce, logger)
	queueStore := storage.NewQueueStore(cfg.DataDir, cfg.Project, logger)

	opts := cart.Options{
		Shop:             cfg.Shop,
		MaxAge:           cfg.CartMaxAge,
		BackupMaxAge:     cfg.BackupMaxAge,
		MaxCheckoutLimit: pricing.Money(cfg.MaxCheckoutCents),
		MaxOnlineLimit:   pricing.Money(cfg.MaxOnlineCents),
		Identity:         identity{clientID: cfg.ClientID},
		Dispatcher:       dispatcher,
		Logger:           logger,
	}
	var session *cart.Session
	if st, ok := cartStore.Load(); ok {
		session = cart.NewSessionFromState(opts, st)
		logger.Info().Int("items", len(st.Items)).Msg("cart_restored_from_disk")
	} else {
		session = cart.NewSession(opts)
	}
	detach := cartStore.Attach(dispatcher)
	defer detach()

	retryer := &retry.Retryer{
		Api:         api,
		Store:       queueStore,
		Dispatcher:  dispatcher,
		Logger:      logger,
		Fallback:    checkout.MethodQRCodePOS,
		MaxFailures: cfg.RetryMaxFails,
		Timeout:     cfg.HTTPTimeout,
	}

	// A closing breaker means the backend is reachable again; sweep the
	// offline queue without waiting for a manual trigger.
	dispatcher.Subscribe(events.TopicConnectivityRestored, func(events.Event) {
		go retryer.ProcessPendingCheckouts(context.Background())
	})
	breaker.WithTransitionHook(func(from, to resilience.State) {
		if to == resilience.Closed {
			dispatcher.Emit(events.TopicConnectivityRestored, nil)
		}
	})

	machine := checkout.NewStateMachine(checkout.MachineOptions{
		Api:            api,
		Session:        session,
		Identity:       identity{clientID: cfg.ClientID},
		Dispatcher:     dispatcher,
		Logger:         logger,
		PollInterval:   cfg.PollInterval,
		Queue:          retryer,
		FallbackMethod: checkout.MethodQRCodePOS,
	})

	dispatcher.Subscribe(events.TopicCheckoutState, func(ev events.Event) {
		if change, ok := ev.Payload.(checkout.StateChange); ok {
			fmt.Printf("checkout: %s -> %s\n", change.From, change.To)
		}
	})
	dispatcher.Subscribe(events.TopicCartViolation, func(ev events.Event) {
		if v, ok := ev.Payload.(cart.Violation); ok {
			fmt.Printf("violation: %s %s\n", v.Type, v.Message)
		}
	})

	fmt.Println("selfscan cli - commands: add <sku> <price> [qty], remove <idx>, show, checkout [method], abort, sweep, quit")
	repl(os.Stdin, session, machine, retryer, cartStore)
}

func serveMetrics(addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info().Str("addr", addr).Msg("metrics_listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error().Err(err).Msg("metrics_server_failed")
	}
}

func repl(in *os.File, session *cart.Session, machine *checkout.StateMachine, retryer *retry.Retryer, store *storage.CartStore) {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "add":
			if len(fields) < 3 {
				fmt.Println("usage: add <sku> <price-cents> [qty]")
				continue
			}
			price, err := strconv.ParseInt(fields[2], 10, 64)
			if err != nil {
				fmt.Println("bad price:", err)
				continue
			}
			qty := 1
			if len(fields) > 3 {
				if n, err := strconv.Atoi(fields[3]); err == nil && n > 0 {
					qty = n
				}
			}
			item := cart.NewProductItem(&cart.Product{
				SKU:       fields[1],
				Name:      fields[1],
				Type:      cart.TypeArticle,
				ListPrice: pricing.Money(price),
			}, nil, qty)
			session.Add(item)
			fmt.Println("added", fields[1])
		case "remove":
			if len(fields) < 2 {
				fmt.Println("usage: remove <idx>")
				continue
			}
			idx, err := strconv.Atoi(fields[1])
			if err != nil {
				fmt.Println("bad index:", err)
				continue
			}
			if err := session.Remove(idx); err != nil {
				fmt.Println("remove:", err)
			}
		case "show":
			printCart(session)
		case "checkout":
			store.Flush()
			if err := machine.Checkout(context.Background()); err != nil {
				fmt.Println("checkout:", err)
				continue
			}
			if len(fields) > 1 {
				waitForState(machine, checkout.StateRequestPaymentMethod, 10*time.Second)
				if err := machine.Pay(context.Background(), checkout.PaymentMethod(fields[1]), nil); err != nil {
					fmt.Println("pay:", err)
				}
			}
		case "abort":
			if err := machine.Abort(context.Background()); err != nil {
				fmt.Println("abort:", err)
			}
		case "sweep":
			retryer.ProcessPendingCheckouts(context.Background())
			fmt.Println("queued:", retryer.Depth())
		case "quit", "exit":
			store.Flush()
			return
		default:
			fmt.Println("unknown command:", fields[0])
		}
	}
}

func printCart(session *cart.Session) {
	st := session.State()
	for i, it := range st.Items {
		name := "(line item)"
		switch {
		case it.Product != nil:
			name = it.Product.Name
		case it.Coupon != nil:
			name = it.Coupon.Name
		case it.Line != nil:
			name = it.Line.Name
		}
		fmt.Printf("%2d  %-24s x%d  %d\n", i, name, it.Quantity, it.TotalPrice(false, pricing.RoundHalfUp))
	}
	sum := session.Summary()
	fmt.Printf("items=%d deposit=%d total=%d\n", sum.ItemTotal, sum.DepositTotal, sum.Total)
}

func waitForState(machine *checkout.StateMachine, want checkout.State, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		st := machine.State()
		if st == want || st.IsTerminal() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}
