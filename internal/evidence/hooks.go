// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package evidence

import (
	"context"
	"time"

	"github.com/awmkit/awmkit/pkg/log"
)

type ctxKey string

const beginKey ctxKey = "begin"

// queryHooks satisfies sqlhooks.Hooks, logging every query this package
// issues and how long it took. Query args are never logged verbatim: the
// spec forbids database errors (and, by the same reasoning, routine query
// logs) from carrying SQL payloads containing user data, so only the
// statement shape is printed.
type queryHooks struct{}

func (h *queryHooks) Before(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	log.Debugf("evidence: query %s", query)
	return context.WithValue(ctx, beginKey, time.Now()), nil
}

func (h *queryHooks) After(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	if begin, ok := ctx.Value(beginKey).(time.Time); ok {
		log.Debugf("evidence: took %s", time.Since(begin))
	}
	return ctx, nil
}
