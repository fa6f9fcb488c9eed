package server

// clientScript reconnects on its own through EventSource. reload.css swaps
// stylesheet hrefs in place, anything else reloads the page.
const clientScript = `(function () {
  if (!window.EventSource) { return; }
  var es = new EventSource("` + ReloadPath + `");
  function bust(href) {
    var u = new URL(href, location.href);
    u.searchParams.set("assetpipe", Date.now().toString(36));
    return u.toString();
  }
  es.addEventListener("reload", function (msg) {
    var ev;
    try { ev = JSON.parse(msg.data); } catch (e) { location.reload(); return; }
    if (ev.topic !== "reload.css") { location.reload(); return; }
    var links = document.querySelectorAll('link[rel="stylesheet"]');
    for (var i = 0; i < links.length; i++) {
      if (links[i].href) { links[i].href = bust(links[i].href); }
    }
  });
})();
`
