package memory

import (
	"fraud_scorer/internal/repository"
)

var (
	_ repository.VelocityStore     = (*VelocityStore)(nil)
	_ repository.VerdictRepository = (*VerdictRepository)(nil)
)
