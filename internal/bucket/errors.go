package bucket

import "errors"

var (
	// ErrBucketNotFound indicates the requested bucket does not exist for the user.
	ErrBucketNotFound = errors.New("bucket not found")
	// ErrBucketNameExists is returned when a user attempts to create a duplicate bucket name.
	ErrBucketNameExists = errors.New("bucket name already exists")
	// ErrBucketNotEmpty rejects deletion of a bucket that still holds objects.
	ErrBucketNotEmpty = errors.New("bucket not empty")
	// ErrBucketSuspended rejects object access on a suspended bucket.
	ErrBucketSuspended = errors.New("bucket suspended")
	// ErrKeyNotFound signals the access key does not exist for the bucket.
	ErrKeyNotFound = errors.New("access key not found")
	// ErrUnknownPlan is returned for a plan code missing from the catalog.
	ErrUnknownPlan = errors.New("unknown plan")
	// ErrInvalidName rejects logical names that cannot map to an S3 bucket.
	ErrInvalidName = errors.New("invalid bucket name")
	// ErrChargeNotDue means the locked bucket row is no longer eligible for a
	// recurring charge (opted out, suspended, or already charged).
	ErrChargeNotDue = errors.New("bucket not due for charge")
)
