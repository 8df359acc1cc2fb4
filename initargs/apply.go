package initargs

// Apply returns a copy of the ledger state with the set fields of update applied.
func Apply(current LedgerInitParams, update *LedgerUpgradeParams) LedgerInitParams {
	next := current
	if update == nil {
		return next
	}

	if update.Metadata != nil {
		next.Metadata = append([]MetadataEntry(nil), update.Metadata...)
	}
	if update.TokenName != nil {
		next.TokenName = *update.TokenName
	}
	if update.TokenSymbol != nil {
		next.TokenSymbol = *update.TokenSymbol
	}
	if update.TransferFee != nil {
		next.TransferFee = *update.TransferFee
	}
	if c := update.ChangeFeeCollector; c != nil {
		switch {
		case c.SetTo != nil:
			account := *c.SetTo
			next.FeeCollectorAccount = &account
		case c.Unset:
			next.FeeCollectorAccount = nil
		}
	}
	if update.MaxMemoLength != nil {
		next.MaxMemoLength = ptr(*update.MaxMemoLength)
	}
	if update.FeatureFlags != nil {
		next.FeatureFlags = &FeatureFlags{ICRC2: update.FeatureFlags.ICRC2}
	}
	if c := update.ChangeArchiveOptions; c != nil {
		applyArchiveOptions(&next.ArchiveOptions, c)
	}
	if update.IndexID != nil {
		next.IndexID = ptr(*update.IndexID)
	}

	return next
}

func applyArchiveOptions(o *ArchiveOptions, c *ChangeArchiveOptions) {
	if c.TriggerThreshold != nil {
		o.TriggerThreshold = *c.TriggerThreshold
	}
	if c.NumBlocksToArchive != nil {
		o.NumBlocksToArchive = *c.NumBlocksToArchive
	}
	if c.NodeMaxMemorySizeBytes != nil {
		o.NodeMaxMemorySizeBytes = ptr(*c.NodeMaxMemorySizeBytes)
	}
	if c.MaxMessageSizeBytes != nil {
		o.MaxMessageSizeBytes = ptr(*c.MaxMessageSizeBytes)
	}
	if c.ControllerID != nil {
		o.ControllerID = *c.ControllerID
	}
	if c.MoreControllerIDs != nil {
		o.MoreControllerIDs = c.MoreControllerIDs
	}
	if c.BalanceForArchiveCreation != nil {
		o.BalanceForArchiveCreation = ptr(*c.BalanceForArchiveCreation)
	}
	if c.MaxTransactionsPerResponse != nil {
		o.MaxTransactionsPerResponse = ptr(*c.MaxTransactionsPerResponse)
	}
}
