package metrics

// Metrics of the settlement aggregator. Names are dotted; the exporter
// turns "epoch.current" into "aggsettle_epoch_current".

var (
	// Certificate lifecycle.
	CertificatesSubmitted = DefaultRegistry.Counter("certificates.submitted", "Certificates accepted as Pending")
	CertificatesRejected  = DefaultRegistry.Counter("certificates.rejected", "Submissions failing the prechecks")
	CertificatesProven    = DefaultRegistry.Counter("certificates.proven", "Certificates that reached Proven")
	CertificatesSettled   = DefaultRegistry.Counter("certificates.settled", "Certificates that reached Settled")
	CertificatesFinalized = DefaultRegistry.Counter("certificates.finalized", "Certificates that reached Finalized")
	CertificatesInError   = DefaultRegistry.Counter("certificates.in_error", "Certificates moved to InError")

	// Proving.
	ProverLatency    = DefaultRegistry.Histogram("prover.latency_ms", "Proof generation time in milliseconds", LatencyBuckets)
	ProverQueueDepth = DefaultRegistry.Gauge("prover.queue_depth", "Witnesses waiting for a prover worker")
	ProverFailures   = DefaultRegistry.Counter("prover.failures", "Failed proof generations")

	// Epochs.
	EpochCurrent      = DefaultRegistry.Gauge("epoch.current", "Latest epoch boundary observed")
	EpochsPacked      = DefaultRegistry.Counter("epoch.packed", "Epochs handed to settlement")
	EpochCertificates = DefaultRegistry.Histogram("epoch.certificates", "Certificates per packed epoch", SizeBuckets)

	// Settlement.
	SettlementTxSent      = DefaultRegistry.Counter("settlement.tx_sent", "Settlement transactions broadcast, retries included")
	SettlementFailures    = DefaultRegistry.Counter("settlement.failures", "Settlements ending in error")
	SettlementLatency     = DefaultRegistry.Histogram("settlement.latency_ms", "Submission to confirmation time in milliseconds", LatencyBuckets)
	SettlementLatestBlock = DefaultRegistry.Gauge("settlement.latest_block", "Settling block checkpoint")
	FinalizedBlock        = DefaultRegistry.Gauge("settlement.finalized_block", "Latest L1 finalized block seen")

	// Admin API.
	APIRequests = DefaultRegistry.Counter("api.requests", "Admin API requests")
	APIErrors   = DefaultRegistry.Counter("api.errors", "Admin API requests answered with an error status")
)
