// Package pubsub is the publish/subscribe front end of the server.
//
// Producers publish log entries with a JSON request, either as the body of
// POST /publish or as a text frame on the /websocket endpoint:
//
//	{
//	  "messageType": "PublicationRequest",
//	  "messageID": "42",
//	  "username": "bob",
//	  "password": "secret",
//	  "repositoryName": "sandbox",
//	  "logEntries": [
//	    {"timestamp": "2011-01-01T00:00:00.000Z", "source": "app", "host": "web1",
//	     "severity": "4", "message": "disk almost full"}
//	  ]
//	}
//
// Each entry becomes one message on repository.<name>.write. The reply
// echoes messageID with success or an errorMessage and errorStackTrace.
//
// A WebSocket client may instead send a SubscriptionRequest with the same
// credential properties. Every entry published to the repository afterwards
// is pushed to the client as a SubscriptionResponse carrying the original
// messageID. A connection holds one subscription at a time; a new request
// replaces the previous one.
//
// Credentials are checked by the auth package before anything is sent.
package pubsub
