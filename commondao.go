// Package commondao is a data-access toolkit for MySQL: a bounded
// connection pool with explicit acquire/release, transaction-scoped
// sessions, and a schema-driven mapper with typed codecs.
package commondao

import (
	"github.com/commondao/commondao/codec"
	"github.com/commondao/commondao/core"
	"github.com/commondao/commondao/pool"
	"github.com/commondao/commondao/schema"
)

// Re-export core types and functions.
type (
	DB       = core.DB
	Config   = core.Config
	Session  = core.Session
	Params   = core.Params
	Result   = core.Result
	Row      = core.Row
	Rows     = core.Rows
	Mapper   = core.Mapper
	Key      = core.Key
	Criteria = core.Criteria
	Page     = core.Page

	QueryError   = core.QueryError
	MappingError = core.MappingError
	CodecError   = codec.Error

	Schema = schema.Schema
	Field  = schema.Field
)

var (
	Open = core.Open
	New  = core.New

	// Register parses and validates a record schema; call it at startup
	// so mapping mistakes fail before the first request.
	Register = schema.Register
)

// Error taxonomy.
var (
	ErrPoolExhausted     = pool.ErrPoolExhausted
	ErrPoolClosed        = pool.ErrPoolClosed
	ErrNoRows            = core.ErrNoRows
	ErrSessionReleased   = core.ErrSessionReleased
	ErrConnBroken        = core.ErrConnBroken
	ErrTransactionState  = core.ErrTransactionState
	ErrNestedTransaction = core.ErrNestedTransaction
)
