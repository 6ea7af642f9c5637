package purchase

import "errors"

var (
	ErrPackageNotFound  = errors.New("credit package not found")
	ErrPurchaseNotFound = errors.New("purchase not found")
	ErrNotPaid          = errors.New("checkout session is not paid")
	ErrMissingMetadata  = errors.New("event metadata is missing purchase_id")
)
