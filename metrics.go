/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package eventschema

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = `eventschema`

type managerMetrics struct {
	requests  *prometheus.CounterVec
	cacheHits *prometheus.CounterVec
	retries   prometheus.Counter
}

func newManagerMetrics(reg prometheus.Registerer) *managerMetrics {
	m := &managerMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      `registry_requests_total`,
			Help:      `Schema registry requests by operation and outcome.`,
		}, []string{`operation`, `outcome`}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      `cache_hits_total`,
			Help:      `Compatible versions cache hits by workflow.`,
		}, []string{`workflow`}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      `registration_retries_total`,
			Help:      `Register-or-reuse retries caused by registration races.`,
		}),
	}

	if reg == nil {
		return m
	}

	m.requests = register(reg, m.requests)
	m.cacheHits = register(reg, m.cacheHits)
	m.retries = register(reg, m.retries)

	return m
}

// register registers c, reusing the already registered collector when another manager
// shares the registerer
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}

	return c
}

func (m *managerMetrics) observeRequest(operation string, err error) {
	outcome := `ok`
	switch {
	case err == nil:
	case IsNotFound(err):
		outcome = `not_found`
	case IsAlreadyExists(err):
		outcome = `already_exists`
	default:
		var ce *CompatibilityError
		if errors.As(err, &ce) {
			outcome = `incompatible`
		} else {
			outcome = `error`
		}
	}

	m.requests.WithLabelValues(operation, outcome).Inc()
}
