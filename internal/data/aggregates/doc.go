// Package aggregates owns transaction boundaries for multi-table writes and
// maps storage failures onto entry error kinds.
package aggregates
