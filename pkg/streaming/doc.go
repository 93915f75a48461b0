/*
Package streaming tracks the fragment bookkeeping for one streaming
transaction: which unit boundaries trigger certification (bytes, rows,
or statements), how many fragments have been certified, and the seqnos
they were ordered at.

The Context is owned by a transaction and consulted by its after-row and
after-statement hooks. It records, it never replicates — the decision to
certify a fragment is read off the counters here, and the actual
certification lives in the transaction state machine.

Stored seqnos are required to be strictly increasing; Cleanup returns
the context to its freshly-constructed state after a commit or a
completed rollback.
*/
package streaming
