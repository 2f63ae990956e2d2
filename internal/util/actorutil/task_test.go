package actorutil

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBackgroundTaskSuccessValue(t *testing.T) {

	assert := assert.New(t)

	var got string
	NewBackgroundTask(nil, func() (*string, error) {
		v := "ok"
		return &v, nil
	}).OnSuccess(func(v string) {
		got = v
	}).Run()

	assert.Equal("ok", got)
}

func TestBackgroundTaskRecoveredValueReachesSuccess(t *testing.T) {

	assert := assert.New(t)

	var got string
	NewBackgroundTask(nil, func() (*string, error) {
		return nil, errors.New("driver down")
	}).Recover(func(err error) string {
		return "recovered: " + err.Error()
	}).OnSuccess(func(v string) {
		got = v
	}).Run()

	assert.Equal("recovered: driver down", got)
}

func TestBackgroundTaskErrorWithoutRecoverSkipsSuccess(t *testing.T) {

	assert := assert.New(t)

	var gotErr error
	called := false
	NewBackgroundTask(nil, func() (*string, error) {
		return nil, errors.New("driver down")
	}).OnError(func(err error) {
		gotErr = err
	}).OnSuccess(func(string) {
		called = true
	}).Run()

	assert.EqualError(gotErr, "driver down")
	assert.False(called, "success callback must not fire on an unrecovered error")
}
