package provider

var (
	_ Provider            = (*MockProvider)(nil)
	_ ClientService       = (*MockClientService)(nil)
	_ HighPriorityService = (*MockHighPriorityService)(nil)
	_ StorageService      = (*MockStorageService)(nil)
	_ StorageService      = (*BoltFragmentStore)(nil)
	_ ServerService       = (*MockServerService)(nil)
)
