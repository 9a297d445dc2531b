// internal/secrets/vault.go
//
// Vault-backed Source.
//
// Context
// -------
//   - Wraps the HashiCorp Vault Go SDK with a KV-v2 read helper and a small
//     per-reference TTL cache, so a burst of cold tenant connects costs one
//     Vault round trip.
//   - A background loop keeps the token renewed until ctx is cancelled.
//
// Environment expectations
// ------------------------
//   - VAULT_ADDR   – scheme and host of the Vault server.
//   - VAULT_TOKEN  – initial token.
package secrets

import (
	"context"
	"fmt"
	"sync"
	"time"

	vault "github.com/hashicorp/vault/api"
	"go.uber.org/zap"
)

// kvReader is the slice of the Vault SDK used by Vault.Lookup.
type kvReader interface {
	Get(ctx context.Context, mount, path string) (map[string]any, error)
}

type sdkKV struct{ api *vault.Client }

func (s sdkKV) Get(ctx context.Context, mount, path string) (map[string]any, error) {
	sec, err := s.api.KVv2(mount).Get(ctx, path)
	if err != nil {
		return nil, err
	}
	return sec.Data, nil
}

// Vault is safe for concurrent use.  Create once at startup.
type Vault struct {
	api *vault.Client
	kv  kvReader
	ttl time.Duration
	log *zap.Logger

	mu    sync.RWMutex
	cache map[string]cached
}

type cached struct {
	val string
	exp time.Time
}

// NewVault reads VAULT_* from the environment, builds a client, and starts
// token renewal bound to ctx.  Values are cached for ttl (0 disables).
func NewVault(ctx context.Context, ttl time.Duration, log *zap.Logger) (*Vault, error) {
	if log == nil {
		log = zap.NewNop()
	}

	cfg := vault.DefaultConfig()
	if err := cfg.ReadEnvironment(); err != nil {
		return nil, fmt.Errorf("vault env cfg: %w", err)
	}
	api, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault api: %w", err)
	}

	v := newVault(sdkKV{api: api}, ttl, log)
	v.api = api
	go v.renewLoop(ctx)
	return v, nil
}

func newVault(kv kvReader, ttl time.Duration, log *zap.Logger) *Vault {
	return &Vault{
		kv:    kv,
		ttl:   ttl,
		log:   log,
		cache: make(map[string]cached),
	}
}

// Lookup implements Source.
func (v *Vault) Lookup(ctx context.Context, ref string) (string, error) {
	path, key, err := ParseRef(ref)
	if err != nil {
		return "", err
	}

	if v.ttl > 0 {
		v.mu.RLock()
		cv, ok := v.cache[ref]
		v.mu.RUnlock()
		if ok && time.Now().Before(cv.exp) {
			return cv.val, nil
		}
	}

	mount, rel := splitMount(path)
	data, err := v.kv.Get(ctx, mount, rel)
	if err != nil {
		return "", fmt.Errorf("vault get %s: %w", path, err)
	}
	raw, ok := data[key]
	if !ok {
		return "", fmt.Errorf("key %q not found in secret %q", key, path)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("value at %s is not a string", ref)
	}

	if v.ttl > 0 {
		v.mu.Lock()
		v.cache[ref] = cached{val: s, exp: time.Now().Add(v.ttl)}
		v.mu.Unlock()
	}
	return s, nil
}

func (v *Vault) renewLoop(ctx context.Context) {
	for ctx.Err() == nil {
		sec, err := v.api.Auth().Token().RenewSelfWithContext(ctx, 0)
		if err != nil {
			v.log.Warn("vault token renew failed", zap.Error(err))
			sleep(ctx, 30*time.Second)
			continue
		}
		if sec == nil || sec.Auth == nil || !sec.Auth.Renewable {
			v.log.Info("vault token not renewable, rechecking in 1h")
			sleep(ctx, time.Hour)
			continue
		}

		w, err := v.api.NewLifetimeWatcher(&vault.LifetimeWatcherInput{Secret: sec})
		if err != nil {
			v.log.Warn("vault watcher init failed", zap.Error(err))
			sleep(ctx, 30*time.Second)
			continue
		}
		go w.Start()
		v.watch(ctx, w)
		sleep(ctx, 15*time.Second)
	}
}

func (v *Vault) watch(ctx context.Context, w *vault.LifetimeWatcher) {
	defer w.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-w.DoneCh():
			if err != nil {
				v.log.Warn("vault token renewal stopped", zap.Error(err))
			}
			return
		case ev := <-w.RenewCh():
			if ev != nil && ev.Secret != nil && ev.Secret.Auth != nil {
				v.log.Debug("vault token renewed", zap.Int("ttl_s", ev.Secret.Auth.LeaseDuration))
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
