package cdp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestToHeaderLowercasesNames(t *testing.T) {
	h := ToHeader(gjson.Parse(`{"Content-Type":"text/html","X-TotalFetchedSize":"1200"}`))
	assert.Equal(t, "text/html", h["content-type"])
	assert.Equal(t, "1200", h.Get("x-totalfetchedsize"))

	assert.Nil(t, ToHeader(gjson.Parse(`[]`)))
	assert.Nil(t, ToHeader(gjson.Result{}))
}

func TestToInitiatorWithAsyncStack(t *testing.T) {
	in := ToInitiator(gjson.Parse(`{
		"type":"script",
		"stack":{
			"callFrames":[{"functionName":"load","scriptId":"12","url":"https://cdn/lib.js","lineNumber":4,"columnNumber":9}],
			"parent":{
				"description":"Promise.then",
				"callFrames":[
					{"functionName":"","scriptId":"3","url":"https://site/app.js","lineNumber":1,"columnNumber":2},
					{"functionName":"","scriptId":"12","url":"https://cdn/lib.js","lineNumber":8,"columnNumber":0}
				]
			}
		}
	}`))

	assert.Equal(t, "script", in.Type)
	require.NotNil(t, in.Stack)
	assert.Equal(t, "12", in.Stack.CallFrames[0].ScriptID)
	require.NotNil(t, in.Stack.Parent)
	assert.Equal(t, "Promise.then", in.Stack.Parent.Description)
	assert.Equal(t, []string{"https://cdn/lib.js", "https://site/app.js"}, in.Stack.URLs())
}

func TestToInitiatorParserWithURL(t *testing.T) {
	in := ToInitiator(gjson.Parse(`{"type":"parser","url":"https://site/","lineNumber":12}`))
	assert.Equal(t, "parser", in.Type)
	assert.Equal(t, "https://site/", in.URL)
	require.NotNil(t, in.LineNumber)
	assert.Equal(t, 12.0, *in.LineNumber)
	assert.Nil(t, in.Stack)
}

func TestToInitiatorFallsBackOnBadShape(t *testing.T) {
	in := ToInitiator(gjson.Parse(`{"type":"script","url":"https://x/","stack":{"callFrames":"oops"}}`))
	assert.Equal(t, "script", in.Type)
	assert.Equal(t, "https://x/", in.URL)
	assert.Nil(t, in.Stack)

	assert.Equal(t, "other", ToInitiator(gjson.Result{}).Type)
}

func TestURLHelpers(t *testing.T) {
	assert.True(t, ValidURL("https://example.com/a?b=c"))
	assert.True(t, ValidURL("data:image/png;base64,AAAA"))
	assert.False(t, ValidURL(""))
	assert.False(t, ValidURL("://broken"))
	assert.False(t, ValidURL("relative/path"))

	assert.True(t, IsSecureScheme("https://a/"))
	assert.True(t, IsSecureScheme("WSS://a/"))
	assert.False(t, IsSecureScheme("http://a/"))
}
