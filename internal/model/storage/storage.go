package storage

import "max.ks1230/grants-portal/internal/model/customerr"

// ErrSubmissionNotFound is returned by GetSubmission for unknown ids.
var ErrSubmissionNotFound = customerr.New(customerr.NotFound, "submission not found")

func userNotFound(email string) error {
	return customerr.Newf(customerr.UserNotFound, "user %s not found", email)
}
