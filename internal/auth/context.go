// Copyright 2025 Preventioid
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
)

type contextKey string

const (
	enumeratorIDKey contextKey = "enumerator_id"
	deviceIDKey     contextKey = "device_id"
)

// SetEnumeratorID sets the enumerator ID in the context.
func SetEnumeratorID(ctx context.Context, enumeratorID string) context.Context {
	return context.WithValue(ctx, enumeratorIDKey, enumeratorID)
}

// GetEnumeratorID retrieves the enumerator ID from the context.
func GetEnumeratorID(ctx context.Context) (string, bool) {
	enumeratorID, ok := ctx.Value(enumeratorIDKey).(string)
	return enumeratorID, ok
}

// SetDeviceID sets the device ID in the context.
func SetDeviceID(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, deviceIDKey, deviceID)
}

// GetDeviceID retrieves the device ID from the context.
func GetDeviceID(ctx context.Context) (string, bool) {
	deviceID, ok := ctx.Value(deviceIDKey).(string)
	return deviceID, ok
}
