//
//  Copyright © Manetu Inc. All rights reserved.
//

package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestGetLogger(t *testing.T) {
	resetForTesting()

	l := GetLogger("testmodule")
	assert.NotNil(t, l)
	assert.True(t, l.IsLevelEnabled(zapcore.InfoLevel))
	assert.False(t, l.IsLevelEnabled(zapcore.DebugLevel))
}

func TestUpdateConfigFromString(t *testing.T) {
	resetForTesting()

	err := UpdateLogLevels(".:info;server:debug;store:warn")
	assert.NoError(t, err)

	l1 := GetLogger("server")
	assert.True(t, l1.IsLevelEnabled(zapcore.DebugLevel))

	l2 := GetLogger("store")
	assert.True(t, l2.IsLevelEnabled(zapcore.WarnLevel))
	assert.False(t, l2.IsLevelEnabled(zapcore.InfoLevel))

	// Undeclared module should get default (info)
	l3 := GetLogger("idp")
	assert.True(t, l3.IsLevelEnabled(zapcore.InfoLevel))
	assert.False(t, l3.IsLevelEnabled(zapcore.DebugLevel))

	// Raising the default raises non-explicit modules, existing or new
	err = UpdateLogLevels(".:debug")
	assert.NoError(t, err)
	assert.True(t, l3.IsLevelEnabled(zapcore.DebugLevel))
	assert.True(t, GetLogger("engine").IsLevelEnabled(zapcore.DebugLevel))
}

func TestUpdateConfigFromStringWithWhitespace(t *testing.T) {
	resetForTesting()

	err := UpdateLogLevels("  server: debug  ;  store: error  ;  .: info  ")
	assert.NoError(t, err)

	assert.True(t, GetLogger("server").IsLevelEnabled(zapcore.DebugLevel))
	l2 := GetLogger("store")
	assert.True(t, l2.IsLevelEnabled(zapcore.ErrorLevel))
	assert.False(t, l2.IsLevelEnabled(zapcore.WarnLevel))
}

func TestMalformedEntriesAreIgnored(t *testing.T) {
	resetForTesting()

	err := UpdateLogLevels("garbage;server:debug;also:bad:entry")
	assert.NoError(t, err)
	assert.True(t, GetLogger("server").IsLevelEnabled(zapcore.DebugLevel))
}
