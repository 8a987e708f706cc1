// Package sync drives replication of the upstream contact collection
// into the local store: a single task alternating between a periodic
// tick and a bounded manual-trigger channel, running one full or
// incremental cycle per wakeup.
package sync

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cybercypher/setu-carddav/internal/storage"
	"github.com/cybercypher/setu-carddav/internal/upstream"
	"github.com/cybercypher/setu-carddav/internal/vault"
	"github.com/cybercypher/setu-carddav/pkg/vcard"
)

const triggerChannelCapacity = 4

// Engine drives sync cycles against a store and an upstream API.
type Engine struct {
	store    storage.Store
	upstream upstream.API
	vault    vault.Vault
	logger   zerolog.Logger
	interval time.Duration

	trigger chan struct{}
}

func New(store storage.Store, up upstream.API, v vault.Vault, logger zerolog.Logger, interval time.Duration) *Engine {
	return &Engine{
		store:    store,
		upstream: up,
		vault:    v,
		logger:   logger,
		interval: interval,
		trigger:  make(chan struct{}, triggerChannelCapacity),
	}
}

// TriggerSync requests an out-of-band sync cycle. Oversupply on a full
// channel is silently dropped by design.
func (e *Engine) TriggerSync() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Run blocks, alternating between the periodic tick and manual
// triggers, running exactly one sync cycle per wakeup. Errors are
// logged and never stop the loop; ctx cancellation is the only exit.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runOneSync(ctx)
		case <-e.trigger:
			e.runOneSync(ctx)
		}
	}
}

func (e *Engine) runOneSync(ctx context.Context) {
	if _, ok, err := e.vault.Get(vault.KeyOAuthToken); err != nil {
		e.logger.Warn().Err(err).Msg("sync: failed reading auth token from vault, skipping cycle")
		return
	} else if !ok {
		e.logger.Debug().Msg("sync: no auth token in vault, skipping cycle")
		return
	}

	token, err := e.store.GetSyncToken(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("sync: failed reading sync token, aborting cycle")
		return
	}

	if token == "" {
		e.fullSync(ctx)
		return
	}

	err = e.incrementalSync(ctx, token)
	if err == nil {
		return
	}

	if upstream.IsTokenExpired(err) {
		e.logger.Warn().Err(err).Msg("sync: sync token rejected, falling back to full sync")
		e.fullSync(ctx)
		return
	}

	e.logger.Error().Err(err).Msg("sync: incremental sync failed, aborting cycle")
}

func (e *Engine) fullSync(ctx context.Context) {
	var puts []storage.Contact
	var nextSyncToken, pageToken string

	for {
		page, err := e.upstream.ListDelta(ctx, "", pageToken)
		if err != nil {
			e.logger.Error().Err(err).Msg("sync: full sync list_delta failed, aborting cycle")
			return
		}
		for _, rec := range page.Records {
			if c, ok := storeContact(rec, e.logger); ok {
				puts = append(puts, c)
			}
		}
		if page.NextPageToken == "" {
			nextSyncToken = page.NextSyncToken
			break
		}
		pageToken = page.NextPageToken
	}

	if err := e.store.ApplyBatch(ctx, puts, nil, nextSyncToken, time.Now().Unix()); err != nil {
		e.logger.Error().Err(err).Msg("sync: failed writing full sync batch, aborting cycle")
		return
	}
	e.logger.Info().Int("count", len(puts)).Msg("sync: full sync complete")
}

func (e *Engine) incrementalSync(ctx context.Context, token string) error {
	var puts []storage.Contact
	var deletes []string
	var nextSyncToken, pageToken string

	for {
		page, err := e.upstream.ListDelta(ctx, token, pageToken)
		if err != nil {
			return err
		}
		if len(page.Records) == 0 && page.NextPageToken == "" {
			e.logger.Debug().Msg("sync: incremental page quiescent")
		}
		for _, rec := range page.Records {
			if rec.Deleted {
				if rec.ResourceName == "" {
					e.logger.Warn().Msg("sync: deleted record missing resource_name, skipping")
					continue
				}
				deletes = append(deletes, rec.ResourceName)
				continue
			}
			if c, ok := storeContact(rec, e.logger); ok {
				puts = append(puts, c)
			}
		}
		if page.NextPageToken == "" {
			nextSyncToken = page.NextSyncToken
			break
		}
		pageToken = page.NextPageToken
	}

	if err := e.store.ApplyBatch(ctx, puts, deletes, nextSyncToken, time.Now().Unix()); err != nil {
		return err
	}
	e.logger.Info().Int("upserts", len(puts)).Int("deletes", len(deletes)).Msg("sync: incremental sync complete")
	return nil
}

// storeContact converts a delta record into a storage.Contact, applying
// the identity rules: a record missing resource_name is never invented
// and is skipped with a warning; a missing etag is stored as empty
// string on the sync path (the reactive path substitutes a UUID
// instead, see internal/dav/carddav).
func storeContact(rec upstream.DeltaRecord, logger zerolog.Logger) (storage.Contact, bool) {
	if rec.ResourceName == "" {
		logger.Warn().Msg("sync: record missing resource_name, skipping")
		return storage.Contact{}, false
	}

	now := time.Now()
	return storage.Contact{
		ResourceName:    rec.ResourceName,
		ETag:            rec.ETag,
		DisplayName:     vcard.DisplayName(rec.Record),
		VCard:           vcard.Encode(rec.Record, now),
		SearchablePhone: vcard.SearchablePhone(rec.Record, storage.NormalizePhone),
		UpdatedAt:       now.Unix(),
	}, true
}
