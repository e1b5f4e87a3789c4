package constants

const (
	// Environment constants
	EnvDevelopment = "development"
	EnvTest        = "test"
	EnvProduction  = "production"

	// HTTP Headers
	HeaderXRequestID = "X-Request-ID"

	// Context keys
	ContextKeyRequestID = "request_id"

	// Database table names
	TableTargets                 = "targets"
	TableTargetAutoConfirmations = "target_auto_confirmations"
	TableDistributionSets        = "distribution_sets"
	TableRollouts                = "rollouts"
	TableRolloutGroups           = "rollout_groups"
	TableRolloutTargetGroups     = "rollout_target_groups"
	TableActions                 = "actions"
	TableActionStatuses          = "action_statuses"
	TableTargetFilterQueries     = "target_filter_queries"
	TableTenantConfigurations    = "tenant_configurations"

	// Redis key prefixes
	RedisKeyTenantLock = "rolloutd:lock:tenant:"

	// Default batch sizes
	DefaultTransactionTargets = 5000
	DefaultTransactionActions = 5000
)
