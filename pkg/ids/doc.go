/*
Package ids defines the identifier and metadata value types shared by
every other package in wsrep-lib.

All types here are immutable by convention. The distinguished "not set"
values are deliberate and asymmetric: a ServerID is undefined when zero,
a ClientID and TransactionID when all-ones, and a Seqno when zero — so a
zero-valued struct is always safely inactive. Seqno intentionally offers
only ordering comparisons (Less/Greater) plus IsUndefined; code that
wants equality should be asking IsUndefined instead.

Flags bit positions are fixed for wire compatibility with the provider
and must not be renumbered.
*/
package ids
