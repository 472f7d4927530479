package app

import (
	"fmt"
	"net/http"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func errNotLoggedIn() *DomainError {
	return domainError(http.StatusUnauthorized, "notPermitted", "must be logged in", nil)
}

func errNotActive() *DomainError {
	return domainError(http.StatusForbidden, "notPermitted", "account is not active", nil)
}

func errUnknownService(serviceID string) *DomainError {
	return domainError(http.StatusNotFound, "unknownService", "service does not exist", map[string]any{"serviceId": serviceID})
}

func errUnknownGroup(groupID string) *DomainError {
	return domainError(http.StatusNotFound, "unknownGroup", "group does not exist", map[string]any{"groupId": groupID})
}

func errUnknownBookmark(bookmarkID string) *DomainError {
	return domainError(http.StatusNotFound, "unknownBookmark", "bookmark does not exist", map[string]any{"bookmarkId": bookmarkID})
}

func errUnknownType(kind string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "unknownType", "unknown element type", map[string]any{"type": kind})
}

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "validationError", message, nil)
}
