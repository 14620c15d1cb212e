package storage

import "errors"

var (
	// ErrDepartmentNotFound is returned when a department is not found
	ErrDepartmentNotFound = errors.New("department not found")

	// ErrLLMConfigNotFound is returned when an LLM configuration is not found
	ErrLLMConfigNotFound = errors.New("llm configuration not found")

	// ErrUserNotFound is returned when a user is not found
	ErrUserNotFound = errors.New("user not found")

	// ErrRefreshTokenNotFound is returned when a refresh token is not found
	ErrRefreshTokenNotFound = errors.New("refresh token not found")

	// ErrQuotaExists is returned when a quota already exists for a
	// (department, llm configuration) pair
	ErrQuotaExists = errors.New("quota already exists for this department and llm configuration")

	// ErrQuotaInUse is returned when deleting a quota whose (department, llm
	// configuration) pair still has usage records
	ErrQuotaInUse = errors.New("quota has usage records and cannot be deleted")

	// ErrDepartmentInUse is returned when deleting a department that users,
	// quotas or usage records still reference
	ErrDepartmentInUse = errors.New("department is still referenced and cannot be deleted")

	// ErrLLMConfigInUse is returned when deleting an LLM configuration that
	// quotas or usage records still reference
	ErrLLMConfigInUse = errors.New("llm configuration is still referenced and cannot be deleted")
)
