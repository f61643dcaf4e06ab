/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package eventschema

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/tryfix/log"
	"golang.org/x/sync/errgroup"
)

// WarmUp runs register-or-reuse for every mapped type so the first records of each type do not
// pay the registry round-trips. It stops at the first failure.
func (m *SchemaManager) WarmUp(ctx context.Context, format SchemaDataFormat) error {
	logger := m.logger.NewLog(log.Prefixed(`WarmUp`))
	mappings := m.types.Mappings()
	logger.Debug(fmt.Sprintf(`Warming up %d schema/s...`, len(mappings)))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.warmUpConcurrency)

	for name, t := range mappings {
		g.Go(func() error {
			version, err := m.RegisterSchema(ctx, name, t, format)
			if err != nil {
				logger.Error(fmt.Sprintf(`Schema [%s] warm up failed due to %s`, name, err))
				return err
			}

			logger.Debug(fmt.Sprintf(`Schema [%s] ready with version %s`, name, version))
			return nil
		})
	}

	return g.Wait()
}

// Refresh looks up the latest version of every cached schema and confirms it against the mapped
// type, so versions registered by other writers are accepted from the cache. Failures are logged
// and skipped. It returns the number of versions added.
func (m *SchemaManager) Refresh(ctx context.Context, format SchemaDataFormat) int {
	logger := m.logger.NewLog(log.Prefixed(`Refresh`))
	logger.Debug(`Looking for new schema versions...`)

	var added int64
	defer func() {
		logger.Debug(fmt.Sprintf(`Looking for new schema versions completed, %d version/s added`, atomic.LoadInt64(&added)))
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.warmUpConcurrency)

	for name, t := range m.types.Mappings() {
		list, ok := m.load(t)
		if !ok {
			continue
		}

		g.Go(func() error {
			latest, err := m.GetSchemaVersion(ctx, name, nil)
			if err != nil {
				logger.Error(fmt.Sprintf(`Error getting latest version of [%s] due to %s`, name, err))
				return nil
			}
			if list.contains(latest.VersionID) {
				return nil
			}

			if _, err := m.EnsureCompatibilityByVersionID(ctx, latest.VersionID, t, format); err != nil {
				logger.Warn(fmt.Sprintf(`New version %s of [%s] is not compatible with %v due to %s`,
					latest.Descriptor(), name, t, err))
				return nil
			}

			logger.Info(fmt.Sprintf(`New schema version accepted. %s:%d`, name, latest.VersionNumber))
			atomic.AddInt64(&added, 1)
			return nil
		})
	}

	_ = g.Wait()

	return int(atomic.LoadInt64(&added))
}
