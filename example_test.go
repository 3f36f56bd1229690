package inject_test

import (
	"context"
	"fmt"
	"io"

	"dqx0.com/go/inject"
	"dqx0.com/go/inject/httpx"
)

func ExampleDo() {
	h := httpx.HandlerFunc(func(w httpx.ResponseWriter, r *httpx.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("hello"))
		w.(httpx.TrailerWriter).AddTrailers(map[string]string{"X-Trailer": "v"})
	})
	res, err := inject.Do(context.Background(), h, inject.RequestOptions{URL: "/"}, inject.Options{})
	if err != nil {
		panic(err)
	}
	fmt.Println(res.StatusCode, res.StatusMessage)
	fmt.Println(res.Headers.Get("transfer-encoding"))
	fmt.Println(res.Payload, res.Trailers["x-trailer"])
	// Output:
	// 200 OK
	// chunked
	// hello v
}

func ExampleInject_stream() {
	h := httpx.HandlerFunc(func(w httpx.ResponseWriter, r *httpx.Request) {
		w.WriteHeader(200)
		for i := 0; i < 3; i++ {
			fmt.Fprintf(w, "data: %d\n", i)
		}
	})
	done := make(chan struct{})
	_ = inject.Inject(context.Background(), h, inject.RequestOptions{}, inject.Options{Stream: true}, func(res *inject.Result) {
		defer close(done)
		body, _ := io.ReadAll(res.Stream)
		fmt.Print(string(body))
	})
	<-done
	// Output:
	// data: 0
	// data: 1
	// data: 2
}
