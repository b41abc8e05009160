package forumapi

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/upnvj-forum/forum-sync/internal/push"
)

func TestRegistryLifecycleRequests(t *testing.T) {
	const endpoint = "forum-sync://push/0192-abc"
	escaped := "/api/v1/push-notifications/unsubscribe/" + url.PathEscape(endpoint)

	forum := newFakeForum(t)
	forum.respond(http.MethodPost, "/api/v1/push-notifications/subscribe", http.StatusCreated, success(nil))
	forum.respond(http.MethodPost, "/api/v1/push-notifications/deactivate", http.StatusOK, success(nil))
	forum.respond(http.MethodPost, "/api/v1/push-notifications/reactivate", http.StatusOK, success(nil))
	forum.respond(http.MethodDelete, escaped, http.StatusOK, success(nil))
	client := mustClient(t, forum)
	ctx := context.Background()

	subscription := push.Subscription{Endpoint: endpoint, Keys: push.Keys{P256dh: "pk", Auth: "secret"}}
	if err := client.Register(ctx, subscription, "forum-sync/test"); err != nil {
		t.Fatalf("register: %v", err)
	}
	register := forum.nextRequest()
	nested, ok := register.Body["subscription"].(map[string]any)
	if !ok || nested["endpoint"] != endpoint || register.Body["userAgent"] != "forum-sync/test" {
		t.Fatalf("unexpected register body %+v", register.Body)
	}
	keys, ok := nested["keys"].(map[string]any)
	if !ok || keys["p256dh"] != "pk" || keys["auth"] != "secret" {
		t.Fatalf("unexpected keys %+v", nested["keys"])
	}

	if err := client.Deactivate(ctx, endpoint); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if body := forum.nextRequest().Body; body["endpoint"] != endpoint {
		t.Fatalf("unexpected deactivate body %+v", body)
	}
	if err := client.Reactivate(ctx, endpoint); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	forum.nextRequest()

	if err := client.Remove(ctx, endpoint); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if remove := forum.nextRequest(); remove.EscapedPath != escaped {
		t.Fatalf("expected escaped path %q, got %q", escaped, remove.EscapedPath)
	}
}

func TestPublicKeyTrimsWhitespace(t *testing.T) {
	forum := newFakeForum(t)
	forum.respond(http.MethodGet, "/api/v1/push-notifications/public-key", http.StatusOK, success(map[string]string{"publicKey": " BKey \n"}))
	client := mustClient(t, forum)

	key, err := client.PublicKey(context.Background())
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	if key != "BKey" {
		t.Fatalf("unexpected key %q", key)
	}
}
