// Package db embeds the storefront database schema.
package db

import _ "embed"

// Schema creates the coupons, wallets and orders tables. It is idempotent.
//
//go:embed migrations/001_schema.sql
var Schema string
