package models

// All lists every persistence model, in dependency order, for AutoMigrate.
func All() []any {
	return []any{
		&TenantConfigurationModel{},
		&DistributionSetModel{},
		&TargetModel{},
		&TargetAutoConfirmationModel{},
		&TargetFilterQueryModel{},
		&RolloutModel{},
		&RolloutGroupModel{},
		&RolloutTargetGroupModel{},
		&ActionModel{},
		&ActionStatusModel{},
	}
}
