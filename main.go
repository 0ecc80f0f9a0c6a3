package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"stp/audit"
	"stp/config"
	"stp/identity"
	"stp/internal/logging"
	"stp/internal/management"
	"stp/internal/state"
	"stp/noise"
	"stp/nostr"
	"stp/peer"
	"stp/relay"
	"stp/session"
)

func main() {
	var cfgPath string
	var statusOnly bool
	flag.StringVar(&cfgPath, "config", "config.json", "Path to configuration file (or '-' for stdin)")
	flag.BoolVar(&statusOnly, "status", false, "Print keystore and relay status and exit")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	level := logging.ParseLevel(cfg.NormalisedLevel())
	baseLogger := logging.New(level, os.Stdout)
	logger := baseLogger.With(map[string]interface{}{"component": "stp"})

	store, err := identity.Open(cfg.Identity.KeystorePath)
	if err != nil {
		log.Fatalf("failed to open keystore: %v", err)
	}
	if _, err := store.EnsureNoiseStatic(); err != nil {
		log.Fatalf("failed to provision noise static key: %v", err)
	}
	nostrKey, err := store.EnsureNostrIdentity()
	if err != nil {
		log.Fatalf("failed to provision nostr identity key: %v", err)
	}
	nostrPub, err := nostr.PubKeyFromPrivate(nostrKey.Priv)
	if err != nil {
		log.Fatalf("failed to derive nostr pubkey: %v", err)
	}

	pattern, err := cfg.EffectiveNoisePattern()
	if err != nil {
		log.Fatalf("invalid noise pattern: %v", err)
	}
	if err := noiseSelfTest(pattern); err != nil {
		log.Fatalf("noise self-test failed for pattern %s: %v", pattern, err)
	}
	logger.Debug("noise self-test passed", map[string]interface{}{"pattern": pattern.String()})

	if statusOnly {
		printStatus(cfg, nostrPub)
		return
	}

	var auditLogger *audit.Logger
	if cfg.Audit.Enabled {
		auditLogger, err = audit.New(audit.Config{
			OutputPath: cfg.Audit.OutputPath,
			BufferSize: cfg.Audit.BufferSize,
			RotateSize: cfg.Audit.RotateSize,
		})
		if err != nil {
			log.Fatalf("failed to open audit log: %v", err)
		}
		defer auditLogger.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	directory := peer.NewDirectory()
	mux := relay.New(logger.With(map[string]interface{}{"subsystem": "relay"}))
	mux.SetMessageRateLimit(600, 50)
	mux.SetReconnectBackoff(cfg.EffectiveBackoffInitial(), cfg.EffectiveBackoffMax())
	mux.SetAuditLogger(auditLogger)
	for _, url := range cfg.Relay.URLs {
		mux.AddRelay(url)
	}
	defer mux.Close()

	subID, err := mux.Subscribe(
		[]nostr.Filter{{Kinds: []int{nostr.KindGiftWrap}, PubkeyTag: []string{nostrPub}}},
		func(relayURL string, event *nostr.Event) {
			handleIncomingGiftWrap(logger, directory, nostrKey.Priv, cfg.Identity.NIP44PreferOddParity, event)
		},
		func(relayURL string) {
			logger.Debug("subscription end of stored events", map[string]interface{}{"relay": relayURL})
		},
	)
	if err != nil {
		log.Fatalf("failed to subscribe: %v", err)
	}
	defer mux.Unsubscribe(subID)

	reloadTracker := state.NewReloadTracker(10)
	mgmt, err := management.New(cfg.Management.Bind, func() interface{} {
		return map[string]interface{}{
			"nostrPubKey": nostrPub,
			"relays":      mux.Infos(),
			"peers":       directory.List(),
			"reloads":     reloadTracker.GetHistory(),
		}
	}, logger, management.WithACL(cfg.ManagementPrefixes()))
	if err != nil {
		log.Fatalf("failed to start management server: %v", err)
	}
	mgmt.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := mgmt.Close(shutdownCtx); err != nil {
			logger.Warn("management server close error", map[string]interface{}{"error": err.Error()})
		}
	}()

	stopWatcher := startConfigWatcher(ctx, cfgPath, logger, reloadTracker, func(updated *config.Config) {
		changes := []string{}
		mgmt.SetACL(updated.ManagementPrefixes())
		changes = append(changes, "management_acl")
		if updated.NormalisedLevel() != cfg.NormalisedLevel() {
			baseLogger.SetLevel(logging.ParseLevel(updated.NormalisedLevel()))
			changes = append(changes, "log_level")
		}
		mux.SetReconnectBackoff(updated.EffectiveBackoffInitial(), updated.EffectiveBackoffMax())
		reconcileRelays(mux, cfg.Relay.URLs, updated.Relay.URLs)
		changes = append(changes, "relays")
		cfg = updated
		reloadTracker.RecordSuccess(changes)
	})
	defer stopWatcher()

	mux.Connect()
	logger.Info("stp started", map[string]interface{}{
		"nostrPubKey": nostrPub,
		"relays":      cfg.Relay.URLs,
		"management":  mgmt.Addr(),
	})

	<-ctx.Done()
	logger.Info("shutdown signal received", nil)
}

func handleIncomingGiftWrap(logger *logging.Logger, directory *peer.Directory, recipientPriv [32]byte, preferOddParity bool, wrap *nostr.Event) {
	if !nostr.Verify(wrap) {
		logger.Warn("dropping gift wrap with invalid signature", map[string]interface{}{"event_id": wrap.ID})
		return
	}
	msg, err := nostr.DecryptPrivateMessage(wrap, recipientPriv, preferOddParity)
	if err != nil {
		logger.Warn("failed to open gift wrap", map[string]interface{}{"event_id": wrap.ID, "error": err.Error()})
		return
	}
	p := directory.GetOrCreate(msg.Sender)
	p.TouchReceive()
	logger.Info("private message received", map[string]interface{}{
		"sender":    msg.Sender,
		"timestamp": msg.Timestamp,
	})
}

// noiseSelfTest drives a complete in-process handshake and one transport
// record round-trip under pattern, using two freshly generated static key
// pairs. spec.md's Non-goals exclude transport selection beyond the relay
// multiplexer, so the Noise channel here terminates at session.Session
// rather than a live peer connection; this is how the configured pattern
// gets exercised before the daemon starts serving.
func noiseSelfTest(pattern noise.Pattern) error {
	initStatic, err := noise.GenerateKeyPair()
	if err != nil {
		return err
	}
	respStatic, err := noise.GenerateKeyPair()
	if err != nil {
		return err
	}

	initCfg := session.Config{Pattern: pattern, Role: noise.Initiator, LocalStatic: &initStatic, NonceMode: noise.NonceCounterSync}
	respCfg := session.Config{Pattern: pattern, Role: noise.Responder, LocalStatic: &respStatic, NonceMode: noise.NonceCounterSync}
	if pattern != noise.PatternXX {
		initCfg.RemoteStatic = &respStatic.Public
	}

	initSess, err := session.New(initCfg)
	if err != nil {
		return err
	}
	respSess, err := session.New(respCfg)
	if err != nil {
		return err
	}

	initiatorTurn := true
	for initSess.State() != session.StateEstablished || respSess.State() != session.StateEstablished {
		if initiatorTurn {
			msg, err := initSess.WriteHandshakeMessage(nil)
			if err != nil {
				return err
			}
			if _, err := respSess.ReadHandshakeMessage(msg); err != nil {
				return err
			}
		} else {
			msg, err := respSess.WriteHandshakeMessage(nil)
			if err != nil {
				return err
			}
			if _, err := initSess.ReadHandshakeMessage(msg); err != nil {
				return err
			}
		}
		initiatorTurn = !initiatorTurn
	}

	ciphertext, err := initSess.Encrypt([]byte("noise self-test"))
	if err != nil {
		return err
	}
	plaintext, err := respSess.Decrypt(ciphertext)
	if err != nil {
		return err
	}
	if string(plaintext) != "noise self-test" {
		return errors.New("round-trip plaintext mismatch")
	}
	initSess.Close()
	respSess.Close()
	return nil
}

func reconcileRelays(mux *relay.Multiplexer, oldURLs, newURLs []string) {
	old := make(map[string]struct{}, len(oldURLs))
	for _, url := range oldURLs {
		old[url] = struct{}{}
	}
	next := make(map[string]struct{}, len(newURLs))
	for _, url := range newURLs {
		next[url] = struct{}{}
	}
	for url := range next {
		if _, existed := old[url]; !existed {
			mux.AddRelay(url)
		}
	}
	for url := range old {
		if _, keep := next[url]; !keep {
			mux.RemoveRelay(url)
		}
	}
}

func printStatus(cfg *config.Config, nostrPub string) {
	fmt.Printf("nostr pubkey: %s\n", nostrPub)
	fmt.Printf("configured relays (%d):\n", len(cfg.Relay.URLs))
	for _, url := range cfg.Relay.URLs {
		fmt.Printf("  %s\n", url)
	}
	fmt.Printf("management listener: %s\n", cfg.Management.Bind)
	fmt.Printf("generated %s\n", humanize.Time(time.Now()))
}

const configWatchInterval = 5 * time.Second

// startConfigWatcher polls path's mtime and re-applies the config on
// change, mirroring the teacher's reload loop. It returns a function that
// stops the watcher goroutine.
func startConfigWatcher(ctx context.Context, path string, logger *logging.Logger, tracker *state.ReloadTracker, apply func(*config.Config)) func() {
	done := make(chan struct{})
	if path == "" || path == "-" || apply == nil {
		close(done)
		return func() { <-done }
	}

	info, err := os.Stat(path)
	lastMod := time.Time{}
	if err != nil {
		logger.Warn("config watcher stat failed", map[string]interface{}{"error": err.Error(), "path": path})
	} else {
		lastMod = info.ModTime()
	}

	ticker := time.NewTicker(configWatchInterval)
	go func() {
		defer ticker.Stop()
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				info, err := os.Stat(path)
				if err != nil {
					logger.Warn("config watcher stat failed", map[string]interface{}{"error": err.Error(), "path": path})
					continue
				}
				mod := info.ModTime()
				if !mod.After(lastMod) {
					continue
				}
				cfg, err := config.Load(path)
				if err != nil {
					logger.Warn("config reload failed", map[string]interface{}{"error": err.Error()})
					tracker.RecordFailure(err)
					continue
				}
				apply(cfg)
				lastMod = mod
				logger.Info("config reloaded", map[string]interface{}{"path": path})
			}
		}
	}()
	return func() { <-done }
}
